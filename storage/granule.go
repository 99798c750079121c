package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/touchhouse/touchhouse/codec"
)

// crcTable uses the Castagnoli polynomial, not IEEE.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// frameHeaderSize is the fixed prefix of a granule frame: u32
// compressed_len, u32 uncompressed_len, u32 crc32, u8 codec_id.
const frameHeaderSize = 4 + 4 + 4 + 1

// EncodeFrame compresses an uncompressed granule payload with c and
// wraps it in the on-disk frame format.
func EncodeFrame(c codec.Codec, uncompressed []byte) []byte {
	compressed := c.Encode(uncompressed)
	sum := crc32.Checksum(uncompressed, crcTable)

	frame := make([]byte, 0, frameHeaderSize+len(compressed))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(compressed)))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(uncompressed)))
	frame = binary.LittleEndian.AppendUint32(frame, sum)
	frame = append(frame, byte(c.ID()))
	frame = append(frame, compressed...)
	return frame
}

// DecodeFrame reverses EncodeFrame: it decompresses the payload and
// verifies the CRC, returning *touchhouse.Error{Kind: CorruptGranule} on
// any mismatch.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, corruptGranuleErr("frame shorter than header")
	}
	compressedLen := binary.LittleEndian.Uint32(frame[0:4])
	uncompressedLen := binary.LittleEndian.Uint32(frame[4:8])
	wantCRC := binary.LittleEndian.Uint32(frame[8:12])
	codecID := codec.ID(frame[12])

	payload := frame[frameHeaderSize:]
	if uint32(len(payload)) < compressedLen {
		return nil, corruptGranuleErr("truncated payload")
	}
	payload = payload[:compressedLen]

	c, err := codec.ByID(codecID)
	if err != nil {
		return nil, corruptGranuleErr(err.Error())
	}

	uncompressed, err := c.Decode(payload, int(uncompressedLen))
	if err != nil {
		return nil, corruptGranuleErr(err.Error())
	}

	gotCRC := crc32.Checksum(uncompressed, crcTable)
	if gotCRC != wantCRC {
		return nil, corruptGranuleErr("crc32 mismatch")
	}
	return uncompressed, nil
}
