package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/touchhouse/touchhouse/value"
)

// EncodeGranuleValues serializes up to granule_size values of one column
// into a fixed little-endian layout: an optional null
// bitmap, followed by the values themselves, variable-length strings
// carrying a u32 length prefix. It also returns the
// granule's [min,max] over its non-null values (hasMinMax is false when
// every value is Null), used to seed the granule index.
func EncodeGranuleValues(typ value.Type, nullable bool, vals []value.Value) (buf []byte, hasMinMax bool, min, max value.Value) {
	n := len(vals)

	var bitmap []byte
	if nullable {
		bitmap = make([]byte, (n+7)/8)
		for i, v := range vals {
			if v.Null {
				bitmap[i/8] |= 1 << uint(i%8)
			}
		}
	}

	buf = make([]byte, 0, 4+len(bitmap)+n*8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = append(buf, bitmap...)

	for _, v := range vals {
		if v.Null {
			continue // null entries contribute no value bytes; the bitmap disambiguates on read
		}
		buf = appendValue(buf, typ, v)

		if !hasMinMax {
			hasMinMax = true
			min, max = v, v
		} else {
			if value.Compare(v, min) < 0 {
				min = v
			}
			if value.Compare(v, max) > 0 {
				max = v
			}
		}
	}
	return buf, hasMinMax, min, max
}

func appendValue(buf []byte, typ value.Type, v value.Value) []byte {
	switch typ {
	case value.TypeBool:
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case value.TypeInt8:
		return append(buf, byte(int8(v.Int)))
	case value.TypeUint8:
		return append(buf, byte(uint8(v.Uint)))
	case value.TypeInt16:
		return binary.LittleEndian.AppendUint16(buf, uint16(int16(v.Int)))
	case value.TypeUint16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v.Uint))
	case value.TypeInt32:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(v.Int)))
	case value.TypeUint32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v.Uint))
	case value.TypeInt64:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case value.TypeUint64:
		return binary.LittleEndian.AppendUint64(buf, v.Uint)
	case value.TypeUuid:
		return append(buf, v.Uuid[:]...)
	case value.TypeString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...)
	default:
		panic(fmt.Sprintf("storage: unsupported type %v", typ))
	}
}

// fixedWidth returns the on-disk width in bytes of typ, or 0 for
// variable-length types (only TypeString).
func fixedWidth(typ value.Type) int {
	switch typ {
	case value.TypeBool, value.TypeInt8, value.TypeUint8:
		return 1
	case value.TypeInt16, value.TypeUint16:
		return 2
	case value.TypeInt32, value.TypeUint32:
		return 4
	case value.TypeInt64, value.TypeUint64:
		return 8
	case value.TypeUuid:
		return 16
	case value.TypeString:
		return 0
	default:
		panic(fmt.Sprintf("storage: unsupported type %v", typ))
	}
}

// ArchivedView is a zero-copy, read-only, typed handle into a decoded
// granule buffer. It indexes directly into the buffer passed to
// DecodeGranuleValues (for a column file, the decompressed granule
// payload) without copying it; At materializes an owned value.Value.
type ArchivedView struct {
	typ      value.Type
	nullable bool
	n        int
	bitmap   []byte
	data     []byte
	offsets  []uint32 // cumulative byte offsets into data, only populated for TypeString
}

// DecodeGranuleValues parses a buffer produced by EncodeGranuleValues.
func DecodeGranuleValues(typ value.Type, nullable bool, buf []byte) (*ArchivedView, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("storage: granule buffer too short")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]

	v := &ArchivedView{typ: typ, nullable: nullable, n: n}

	if nullable {
		bitmapLen := (n + 7) / 8
		if len(buf) < bitmapLen {
			return nil, fmt.Errorf("storage: truncated null bitmap")
		}
		v.bitmap = buf[:bitmapLen]
		buf = buf[bitmapLen:]
	}

	if typ == value.TypeString {
		offsets := make([]uint32, n+1)
		pos := uint32(0)
		for i := 0; i < n; i++ {
			if v.isNullIdx(i) {
				offsets[i+1] = pos
				continue
			}
			if len(buf) < int(pos)+4 {
				return nil, fmt.Errorf("storage: truncated string length")
			}
			strLen := binary.LittleEndian.Uint32(buf[pos:])
			pos += 4
			if len(buf) < int(pos)+int(strLen) {
				return nil, fmt.Errorf("storage: truncated string payload")
			}
			pos += strLen
			offsets[i+1] = pos
		}
		v.data = buf
		v.offsets = offsets
		return v, nil
	}

	width := fixedWidth(typ)
	nonNull := n
	if nullable {
		nonNull = 0
		for i := 0; i < n; i++ {
			if !v.isNullIdx(i) {
				nonNull++
			}
		}
	}
	if len(buf) < nonNull*width {
		return nil, fmt.Errorf("storage: truncated fixed-width values")
	}
	v.data = buf
	return v, nil
}

func (v *ArchivedView) Len() int { return v.n }

func (v *ArchivedView) isNullIdx(i int) bool {
	if v.bitmap == nil {
		return false
	}
	return v.bitmap[i/8]&(1<<uint(i%8)) != 0
}

func (v *ArchivedView) IsNull(i int) bool { return v.isNullIdx(i) }

// fixedOffset returns the byte offset of the i'th non-null fixed-width
// value by scanning the bitmap. Granules are at most granule_size (8192)
// rows so this linear scan is cheap relative to decompression; a denser
// encoding could precompute this in O(1) but isn't required at this size.
func (v *ArchivedView) fixedOffset(i int) int {
	width := fixedWidth(v.typ)
	if v.bitmap == nil {
		return i * width
	}
	pos := 0
	for j := 0; j < i; j++ {
		if !v.isNullIdx(j) {
			pos++
		}
	}
	return pos * width
}

// At returns the value at row i as a value.Value, materializing it.
// Used by code paths (projection output, predicate post-filter) that
// need an owned value rather than a raw accessor.
func (v *ArchivedView) At(i int) value.Value {
	if v.isNullIdx(i) {
		return value.NullValue(v.typ)
	}
	switch v.typ {
	case value.TypeString:
		return value.String(string(v.data[v.offsets[i]+4 : v.offsets[i+1]]))
	case value.TypeUuid:
		off := v.fixedOffset(i)
		var u [16]byte
		copy(u[:], v.data[off:off+16])
		return value.Uuid(u)
	case value.TypeBool:
		off := v.fixedOffset(i)
		return value.Bool(v.data[off] != 0)
	case value.TypeInt8:
		off := v.fixedOffset(i)
		return value.Int8(int8(v.data[off]))
	case value.TypeUint8:
		off := v.fixedOffset(i)
		return value.Uint8(v.data[off])
	case value.TypeInt16:
		off := v.fixedOffset(i)
		return value.Int16(int16(binary.LittleEndian.Uint16(v.data[off:])))
	case value.TypeUint16:
		off := v.fixedOffset(i)
		return value.Uint16(binary.LittleEndian.Uint16(v.data[off:]))
	case value.TypeInt32:
		off := v.fixedOffset(i)
		return value.Int32(int32(binary.LittleEndian.Uint32(v.data[off:])))
	case value.TypeUint32:
		off := v.fixedOffset(i)
		return value.Uint32(binary.LittleEndian.Uint32(v.data[off:]))
	case value.TypeInt64:
		off := v.fixedOffset(i)
		return value.Int64(int64(binary.LittleEndian.Uint64(v.data[off:])))
	case value.TypeUint64:
		off := v.fixedOffset(i)
		return value.Uint64(binary.LittleEndian.Uint64(v.data[off:]))
	default:
		panic(fmt.Sprintf("storage: unsupported type %v", v.typ))
	}
}
