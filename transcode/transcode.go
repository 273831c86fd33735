// Package transcode turns Go values into the (bytes, flags) pair stored
// under a cache key, and back.
//
// Layout of the flags word:
//
//	bits 0-1  type tag: 0 = text, 1 = structured, 2 = opaque bytes
//	bit  2    compressed (owned by Pipeline; Codec never touches it)
//
// Encoding runs in two stages. Codec picks the type tag and produces the
// payload bytes (structured values go through a pluggable Serializer),
// then Pipeline compresses payloads larger than the compression
// threshold and sets FlagCompressed. Decoding reverses the stages:
// decompress when the bit is set, clear it, then dispatch on the tag
// alone. Stored bytes never influence the decode path; only the tag does.
package transcode

import (
	"fmt"
	"sync/atomic"

	"github.com/unkn0wn-root/memcx/compress"
)

const (
	// TagText marks UTF-8 text stored verbatim. Decodes to string.
	TagText uint32 = 0
	// TagStructured marks payloads produced by a Serializer.
	TagStructured uint32 = 1
	// TagBytes marks opaque payloads stored untouched. Decodes to []byte.
	TagBytes uint32 = 2

	tagMask uint32 = 0x3

	// FlagCompressed is set by Pipeline when the stored payload is
	// compressed. Nothing else may set or clear it.
	FlagCompressed uint32 = 1 << 2
)

// MaxItemSize is the server item ceiling of the memcached family (1 MiB
// by default). Encode fails rather than producing a payload the server
// would reject.
const MaxItemSize = 1 << 20

// DefaultCompressThreshold is the compression cutoff used when a
// Threshold cell holds no explicit value.
const DefaultCompressThreshold = 16 << 10

// Transcoder is the slot the client consumes: the (bytes, flags) <->
// value contract and nothing else.
type Transcoder interface {
	Encode(v any) (data []byte, flags uint32, err error)
	Decode(data []byte, flags uint32) (any, error)
}

// Payload is the tagged envelope produced by the codec stage. Capacity
// is an allocation hint for buffers holding the encoded form; it tracks
// len(Data) until compression rewrites it to the item ceiling, since the
// inflated size is unknown until decode.
type Payload struct {
	Data     []byte
	Flags    uint32
	Capacity int
}

// Threshold is a shared compression cutoff cell. Pipelines read it on
// every Encode, so a Set applies to later calls of every pipeline
// sharing the cell without rebuilding any of them. The zero value reads
// as DefaultCompressThreshold.
type Threshold struct {
	n atomic.Int64
}

// Get returns the current cutoff in bytes.
func (t *Threshold) Get() int {
	if v := t.n.Load(); v > 0 {
		return int(v)
	}
	return DefaultCompressThreshold
}

// Set replaces the cutoff. Values <= 0 restore the default.
func (t *Threshold) Set(n int) { t.n.Store(int64(n)) }

// defaultThreshold backs every pipeline not given its own cell.
var defaultThreshold Threshold

// DefaultThreshold returns the process-wide shared cell.
func DefaultThreshold() *Threshold { return &defaultThreshold }

// Codec is the tagged type dispatcher. Most callers use it through
// Pipeline; it is exported for tools that need tag semantics without
// compression.
type Codec struct {
	S Serializer
}

// Encode tags v and produces its payload bytes. Strings and []byte skip
// the serializer entirely.
func (c Codec) Encode(v any) (Payload, error) {
	switch t := v.(type) {
	case string:
		return Payload{Data: []byte(t), Flags: TagText, Capacity: len(t)}, nil
	case []byte:
		return Payload{Data: t, Flags: TagBytes, Capacity: len(t)}, nil
	default:
		b, err := c.S.Marshal(v)
		if err != nil {
			return Payload{}, fmt.Errorf("transcode: %s marshal: %w", c.S.Name(), err)
		}
		return Payload{Data: b, Flags: TagStructured, Capacity: len(b)}, nil
	}
}

// Decode dispatches on the type tag. Bits outside the tag are ignored
// here; the compression bit is Pipeline's business.
func (c Codec) Decode(data []byte, flags uint32) (any, error) {
	switch flags & tagMask {
	case TagText:
		return string(data), nil
	case TagBytes:
		return data, nil
	case TagStructured:
		v, err := c.S.Unmarshal(data)
		if err != nil {
			return nil, &DecodeError{Flags: flags, Err: err}
		}
		return v, nil
	default:
		return nil, &DecodeError{Flags: flags, Err: fmt.Errorf("unknown type tag %d", flags&tagMask)}
	}
}

// Pipeline composes Codec with a compressor behind a threshold.
type Pipeline struct {
	codec     Codec
	comp      compress.Compressor
	threshold *Threshold
}

var _ Transcoder = (*Pipeline)(nil)

// PipelineOption tunes a pipeline at construction.
type PipelineOption func(*Pipeline)

// WithCompressor swaps the compressor strategy (default compress.Deflate).
func WithCompressor(c compress.Compressor) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.comp = c
		}
	}
}

// WithThreshold attaches a dedicated cutoff cell, detaching the pipeline
// from the process-wide shared cell.
func WithThreshold(t *Threshold) PipelineOption {
	return func(p *Pipeline) {
		if t != nil {
			p.threshold = t
		}
	}
}

// NewPipeline builds a pipeline around the given structured serializer.
func NewPipeline(s Serializer, opts ...PipelineOption) (*Pipeline, error) {
	if s == nil {
		return nil, fmt.Errorf("transcode: serializer is required")
	}
	p := &Pipeline{
		codec:     Codec{S: s},
		comp:      compress.Deflate{},
		threshold: DefaultThreshold(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewMsgpackPipeline is the compact-binary variant and the default used
// by the client.
func NewMsgpackPipeline(opts ...PipelineOption) *Pipeline {
	p, _ := NewPipeline(Msgpack{}, opts...)
	return p
}

// NewJSONPipeline is the textual variant: structured payloads stay
// human-readable in cache dumps.
func NewJSONPipeline(opts ...PipelineOption) *Pipeline {
	p, _ := NewPipeline(JSON{}, opts...)
	return p
}

// Threshold returns the cutoff cell this pipeline reads.
func (p *Pipeline) Threshold() *Threshold { return p.threshold }

// Compressor returns the compressor strategy in use.
func (p *Pipeline) Compressor() compress.Compressor { return p.comp }

func (p *Pipeline) Encode(v any) ([]byte, uint32, error) {
	pl, err := p.codec.Encode(v)
	if err != nil {
		return nil, 0, err
	}
	// The cutoff is read per call: a Set on the cell applies to every
	// value encoded afterwards, not only to pipelines built afterwards.
	if cutoff := p.threshold.Get(); len(pl.Data) > cutoff {
		packed, err := p.comp.Compress(pl.Data)
		if err != nil {
			return nil, 0, &CompressionError{Stage: "compress", Name: p.comp.Name(), Err: err}
		}
		pl.Data = packed
		pl.Flags |= FlagCompressed
		pl.Capacity = MaxItemSize
	}
	if len(pl.Data) > MaxItemSize {
		return nil, 0, fmt.Errorf("transcode: encoded value is %d bytes, over the %d byte item ceiling", len(pl.Data), MaxItemSize)
	}
	return pl.Data, pl.Flags, nil
}

func (p *Pipeline) Decode(data []byte, flags uint32) (any, error) {
	if flags&FlagCompressed != 0 {
		raw, err := p.comp.Decompress(data)
		if err != nil {
			return nil, &CompressionError{Stage: "decompress", Name: p.comp.Name(), Err: err}
		}
		data = raw
		flags &^= FlagCompressed
	}
	return p.codec.Decode(data, flags)
}
