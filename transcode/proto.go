package transcode

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto serializes structured values through the protobuf well-known
// google.protobuf.Value type. The value space is JSON-shaped:
// string-keyed maps, slices, float64 numbers, booleans, strings, nil.
// Values outside that space fail Marshal with structpb's error; ints are
// widened to float64 on the way through, like JSON.
//
// Pick this when other protobuf consumers share the cache; for plain Go
// callers Msgpack keeps more type fidelity.
type Proto struct{}

var _ Serializer = Proto{}

func (Proto) Name() string { return "proto" }

func (Proto) Marshal(v any) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func (Proto) Unmarshal(b []byte) (any, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}
