package transcode

import "fmt"

// DecodeError reports stored bytes that could not be turned back into a
// value: an unknown type tag, or a serializer rejecting its own format.
type DecodeError struct {
	Flags uint32
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transcode: decode failed (flags=%#x): %v", e.Flags, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CompressionError reports a compressor failure in either direction.
type CompressionError struct {
	Stage string // "compress" or "decompress"
	Name  string // compressor name
	Err   error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("transcode: %s %s failed: %v", e.Name, e.Stage, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }
