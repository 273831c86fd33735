package transcode

import "encoding/json"

// JSON serializes structured values as UTF-8 JSON text. Numbers decode
// as float64 and objects as map[string]any, Go's generic JSON shapes.
type JSON struct{}

var _ Serializer = JSON{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(b []byte) (any, error) {
	var v any
	err := json.Unmarshal(b, &v)
	return v, err
}
