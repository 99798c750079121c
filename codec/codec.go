// Package codec implements pluggable block compression. Codecs are
// pure: no I/O, no allocation beyond the output buffer, and are
// identified by a small integer persisted in column file headers so
// future codecs never break old parts.
package codec

import "fmt"

// ID is the on-disk codec identifier, a single byte in every granule
// frame and column file header.
type ID uint8

const (
	// None stores the granule payload uncompressed. Used by tests and
	// as an escape hatch; never chosen by the Writer by default.
	None ID = 0
	// Snappy is the default codec: a fast LZ4-family block compressor
	// at a fixed level.
	Snappy ID = 1
)

// DecodeError is returned when a frame's payload is truncated or its
// framing is otherwise corrupt.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "codec: decode error: " + e.Reason }

// Codec compresses and decompresses one granule payload at a time.
type Codec interface {
	ID() ID
	Encode(src []byte) []byte
	Decode(src []byte, expectedUncompressedLen int) ([]byte, error)
}

var registry = map[ID]Codec{}

func register(c Codec) { registry[c.ID()] = c }

// ByID looks up a registered codec by its on-disk identifier.
func ByID(id ID) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec id %d", id)
	}
	return c, nil
}

func init() {
	register(noneCodec{})
	register(snappyCodec{})
}
