package transcode

// Serializer is the strategy for structured (tag 1) payloads. Marshal
// accepts arbitrary Go values; Unmarshal decodes into the generic shapes
// of its format: maps, slices, strings, booleans, numbers, nil. The
// concrete number and map types coming back are serializer-defined, and
// each implementation documents its own.
//
// Implementations must be safe for concurrent use.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte) (any, error)
	Name() string
}
