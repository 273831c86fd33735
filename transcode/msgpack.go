package transcode

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack serializes structured values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Msgpack is compact and fast; be mindful of struct tag differences vs
// JSON. Use `msgpack:"fieldName"` tags if you need explicit control.
//
// Decoded shapes: negative and small non-negative integers (<= 127)
// come back as int64, larger non-negative ones as uint64 (the encoder
// uses unsigned codes for them), floats as float64, string-keyed maps as
// map[string]any and arrays as []any. Loose interface decoding keeps the
// widths stable; without it integers surface as int8/int16 and so on,
// which makes type assertions a lottery.
type Msgpack struct{}

var _ Serializer = Msgpack{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Unmarshal(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var v any
	err := dec.Decode(&v)
	return v, err
}
