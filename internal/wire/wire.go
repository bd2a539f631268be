// Package wire frames tier entries as
//
//	magic(4) | ver(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
//
// The generation travels with the payload so readers can reject entries
// written before the key was invalidated.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 4
)

var (
	ErrCorrupt  = errors.New("querycache/tier: corrupt entry")
	ErrTooLarge = errors.New("querycache/tier: payload exceeds 4GiB frame limit")
	magic4      = [...]byte{'Q', 'C', 'T', 'R'}
)

// Encode frames payload with gen.
func Encode(gen uint64, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	out := make([]byte, hdrLen, hdrLen+len(payload))
	copy(out, magic4[:])
	out[4] = version
	binary.BigEndian.PutUint64(out[5:13], gen)
	binary.BigEndian.PutUint32(out[13:17], uint32(len(payload)))
	return append(out, payload...), nil
}

// Decode validates the frame and returns its generation and payload.
// The payload aliases b. Trailing bytes are treated as corruption.
func Decode(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[5:13])
	vlen := uint64(binary.BigEndian.Uint32(b[13:17]))
	if vlen != uint64(len(b)-hdrLen) {
		return 0, nil, ErrCorrupt
	}
	return gen, b[hdrLen:], nil
}
