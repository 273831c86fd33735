// Package compress holds the compressor strategies used by the value
// pipeline. Implementations must be reversible byte-for-byte:
// Decompress(Compress(b)) == b for any input.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
)

// DecompressBufSize seeds the output buffer. Decompressed sizes are not
// known up front; the buffer grows past this as needed.
const DecompressBufSize = 32 << 10

// Compressor shrinks a payload and restores it. Implementations must be
// safe for concurrent use.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
	Name() string
}

// Deflate compresses with raw DEFLATE streams (RFC 1951). The zero value
// uses the default level.
type Deflate struct {
	// Level is a compress/flate level. 0 selects flate.DefaultCompression.
	Level int
}

var _ Compressor = Deflate{}

func (Deflate) Name() string { return "deflate" }

func (d Deflate) Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level(d.Level))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Deflate) Decompress(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return readAll(r)
}

// Gzip compresses with gzip framing (RFC 1952). Bulkier than Deflate but
// self-describing; use it when readers outside this module consume the
// stored bytes.
type Gzip struct {
	Level int
}

var _ Compressor = Gzip{}

func (Gzip) Name() string { return "gzip" }

func (g Gzip) Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level(g.Level))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAll(r)
}

func level(l int) int {
	if l == 0 {
		return flate.DefaultCompression
	}
	return l
}

// readAll drains r to end-of-stream. A short read is not end of data;
// ReadFrom keeps going until io.EOF.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(DecompressBufSize)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
