// Package wire frames cache values for backends that store a bare byte
// string per key. memcached carries a 32-bit flags word next to every
// value; backends without that sidecar (redis) store this envelope
// instead so the flags survive the round trip.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("memcx: corrupt value envelope")
	magic4     = [...]byte{'M', 'C', 'X', 'V'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Value: magic(4) | ver(1) | flags(u32 be) | vlen(u32 be) | payload(vlen)
func EncodeValue(flags uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 4 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u4 [4]byte

	binary.BigEndian.PutUint32(u4[:], flags)
	buf.Write(u4[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeValue(b []byte) (flags uint32, payload []byte, err error) {
	const hdr = 4 + 1 + 4 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return 0, nil, ErrCorrupt
	}

	off := 5

	flags = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact length; trailing bytes are corruption
		return 0, nil, ErrCorrupt
	}

	return flags, b[off : off+vlen], nil
}
