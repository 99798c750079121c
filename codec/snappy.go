package codec

import (
	"bytes"

	"github.com/golang/snappy"
)

type snappyCodec struct{}

func (snappyCodec) ID() ID { return Snappy }

func (snappyCodec) Encode(src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (snappyCodec) Decode(src []byte, expectedUncompressedLen int) ([]byte, error) {
	dst := make([]byte, expectedUncompressedLen)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if len(out) != expectedUncompressedLen {
		return nil, &DecodeError{Reason: "decoded length mismatch"}
	}
	return out, nil
}

type noneCodec struct{}

func (noneCodec) ID() ID { return None }

func (noneCodec) Encode(src []byte) []byte {
	return bytes.Clone(src)
}

func (noneCodec) Decode(src []byte, expectedUncompressedLen int) ([]byte, error) {
	if len(src) != expectedUncompressedLen {
		return nil, &DecodeError{Reason: "length mismatch"}
	}
	return bytes.Clone(src), nil
}
