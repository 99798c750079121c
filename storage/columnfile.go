package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/touchhouse/touchhouse/codec"
	"github.com/touchhouse/touchhouse/value"
)

// Column file magic and version.
const (
	columnFileMagic   = "TCHB"
	columnFileVersion = uint16(1)
)

// headerSize is the fixed-width prefix of a column file: magic(4) +
// version(2) + codec_id(1) + value_type(1) + nullable(1) +
// granule_count(4) + granule_size(4), followed by a u32 index byte
// length.
const headerSize = 4 + 2 + 1 + 1 + 1 + 4 + 4 + 4

// GranuleIndexRecord is one record of the granule index: it
// locates a compressed frame within the file and carries the per-granule
// min/max used to seed predicate skipping.
type GranuleIndexRecord struct {
	Offset           uint64
	CompressedLen    uint32
	UncompressedLen  uint32
	CRC32            uint32
	HasMinMax        bool
	Min, Max         value.Value
}

// Header describes a column file's fixed metadata.
type Header struct {
	CodecID      codec.ID
	ValueType    value.Type
	Nullable     bool
	GranuleCount uint32
	GranuleSize  uint32
}

// ColumnFileWriter accumulates granule frames and their index records in
// memory, then writes header + index + frames sequentially followed by
// fsync.
type ColumnFileWriter struct {
	header Header
	codec  codec.Codec

	index  []GranuleIndexRecord
	frames [][]byte
	offset uint64
}

func NewColumnFileWriter(valueType value.Type, nullable bool, c codec.Codec) *ColumnFileWriter {
	return &ColumnFileWriter{
		header: Header{
			CodecID:     c.ID(),
			ValueType:   valueType,
			Nullable:    nullable,
			GranuleSize: schemaGranuleSize,
		},
		codec:  c,
		offset: uint64(headerSize),
	}
}

// schemaGranuleSize mirrors schema.GranuleSize without importing the
// schema package (which does not itself depend on storage), keeping the
// dependency direction callers already expect: schema -> nothing,
// storage -> value/codec only. Callers pass the authoritative granule
// size via AddGranule's row count; this constant only seeds the header
// and is overwritten by SetGranuleSize when it differs.
const schemaGranuleSize = 8192

func (w *ColumnFileWriter) SetGranuleSize(n int) { w.header.GranuleSize = uint32(n) }

// AddGranule serializes and compresses one granule's worth of values and
// appends its frame and index record.
func (w *ColumnFileWriter) AddGranule(vals []value.Value) {
	uncompressed, hasMinMax, min, max := EncodeGranuleValues(w.header.ValueType, w.header.Nullable, vals)
	frame := EncodeFrame(w.codec, uncompressed)

	rec := GranuleIndexRecord{
		Offset:          w.offset,
		CompressedLen:   uint32(len(frame) - frameHeaderSize),
		UncompressedLen: uint32(len(uncompressed)),
		HasMinMax:       hasMinMax,
		Min:             min,
		Max:             max,
	}
	rec.CRC32 = binary.LittleEndian.Uint32(frame[8:12])

	w.index = append(w.index, rec)
	w.frames = append(w.frames, frame)
	w.offset += uint64(len(frame))
	w.header.GranuleCount++
}

// Bytes serializes the full column file (header, index, frames) as it
// will appear on disk.
func (w *ColumnFileWriter) Bytes() []byte {
	// AddGranule counts offsets from the end of the header; the frames
	// follow the index on disk, so every offset is shifted past it. The
	// encoded index length does not depend on the offset values.
	idxLen := len(encodeIndex(w.index, w.header.ValueType))
	recs := make([]GranuleIndexRecord, len(w.index))
	for i, r := range w.index {
		r.Offset += uint64(idxLen)
		recs[i] = r
	}
	idx := encodeIndex(recs, w.header.ValueType)

	buf := make([]byte, 0, headerSize+len(idx))
	buf = append(buf, []byte(columnFileMagic)...)
	buf = binary.LittleEndian.AppendUint16(buf, columnFileVersion)
	buf = append(buf, byte(w.header.CodecID))
	buf = append(buf, byte(w.header.ValueType))
	if w.header.Nullable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, w.header.GranuleCount)
	buf = binary.LittleEndian.AppendUint32(buf, w.header.GranuleSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(idx)))
	buf = append(buf, idx...)

	for _, f := range w.frames {
		buf = append(buf, f...)
	}
	return buf
}

// WriteFile writes the column file to path and fsyncs it. WritePart
// calls this once per column, then fsyncs the directory.
func (w *ColumnFileWriter) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return ioErr("create column file", err)
	}
	defer f.Close()

	if _, err := f.Write(w.Bytes()); err != nil {
		return ioErr("write column file", err)
	}
	if err := f.Sync(); err != nil {
		return ioErr("fsync column file", err)
	}
	return nil
}

func encodeIndex(recs []GranuleIndexRecord, typ value.Type) []byte {
	var buf []byte
	for _, r := range recs {
		buf = binary.LittleEndian.AppendUint64(buf, r.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, r.CompressedLen)
		buf = binary.LittleEndian.AppendUint32(buf, r.UncompressedLen)
		buf = binary.LittleEndian.AppendUint32(buf, r.CRC32)
		if r.HasMinMax {
			buf = append(buf, 1)
			buf = appendIndexScalar(buf, typ, r.Min)
			buf = appendIndexScalar(buf, typ, r.Max)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

func appendIndexScalar(buf []byte, typ value.Type, v value.Value) []byte {
	if typ == value.TypeString {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...)
	}
	return appendValue(buf, typ, v)
}

func decodeIndexScalar(typ value.Type, buf []byte) (value.Value, int, error) {
	switch typ {
	case value.TypeString:
		if len(buf) < 4 {
			return value.Value{}, 0, fmt.Errorf("truncated index scalar length")
		}
		n := int(binary.LittleEndian.Uint32(buf))
		if len(buf) < 4+n {
			return value.Value{}, 0, fmt.Errorf("truncated index scalar payload")
		}
		return value.String(string(buf[4 : 4+n])), 4 + n, nil
	default:
		w := fixedWidth(typ)
		if len(buf) < w {
			return value.Value{}, 0, fmt.Errorf("truncated index scalar")
		}
		view, err := DecodeGranuleValues(typ, false, append(binary.LittleEndian.AppendUint32(nil, 1), buf[:w]...))
		if err != nil {
			return value.Value{}, 0, err
		}
		return view.At(0), w, nil
	}
}

func decodeIndex(buf []byte, typ value.Type, count uint32) ([]GranuleIndexRecord, error) {
	recs := make([]GranuleIndexRecord, 0, count)
	pos := 0
	for i := uint32(0); i < count; i++ {
		if len(buf)-pos < 8+4+4+4+1 {
			return nil, fmt.Errorf("truncated granule index record %d", i)
		}
		rec := GranuleIndexRecord{
			Offset:          binary.LittleEndian.Uint64(buf[pos:]),
			CompressedLen:   binary.LittleEndian.Uint32(buf[pos+8:]),
			UncompressedLen: binary.LittleEndian.Uint32(buf[pos+12:]),
			CRC32:           binary.LittleEndian.Uint32(buf[pos+16:]),
		}
		pos += 20
		hasMinMax := buf[pos]
		pos++
		if hasMinMax != 0 {
			min, n, err := decodeIndexScalar(typ, buf[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			max, n, err := decodeIndexScalar(typ, buf[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			rec.HasMinMax = true
			rec.Min = min
			rec.Max = max
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ColumnFile is a read-only, mmap-backed column file. The mmap must
// remain live while any ArchivedView obtained from it is in use; the
// owning Part keeps it open and closes it only when the part is
// deleted and its last reference released.
type ColumnFile struct {
	header Header
	index  []GranuleIndexRecord
	data   mmap.MMap
	file   *os.File
}

// OpenColumnFile mmaps path, validates the magic/version, and checks
// that the declared value type matches expectation.
func OpenColumnFile(path string, expectedType value.Type) (*ColumnFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open column file", err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, ioErr("mmap column file", err)
	}

	cf, err := parseColumnFile(data, expectedType)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	cf.data = data
	cf.file = f
	return cf, nil
}

func parseColumnFile(data []byte, expectedType value.Type) (*ColumnFile, error) {
	if len(data) < headerSize {
		return nil, corruptPartErr("column file shorter than header")
	}
	if !bytes.Equal(data[0:4], []byte(columnFileMagic)) {
		return nil, corruptPartErr("bad column file magic")
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != columnFileVersion {
		return nil, corruptPartErr(fmt.Sprintf("unsupported column file version %d", version))
	}

	h := Header{
		CodecID:      codec.ID(data[6]),
		ValueType:    value.Type(data[7]),
		Nullable:     data[8] != 0,
		GranuleCount: binary.LittleEndian.Uint32(data[9:13]),
		GranuleSize:  binary.LittleEndian.Uint32(data[13:17]),
	}
	if h.ValueType != expectedType {
		return nil, corruptPartErr(fmt.Sprintf("column file declares type %v, expected %v", h.ValueType, expectedType))
	}

	indexLen := binary.LittleEndian.Uint32(data[17:21])
	if uint32(len(data)-headerSize) < indexLen {
		return nil, corruptPartErr("truncated granule index")
	}
	idxBuf := data[headerSize : headerSize+int(indexLen)]
	recs, err := decodeIndex(idxBuf, h.ValueType, h.GranuleCount)
	if err != nil {
		return nil, corruptPartErr(err.Error())
	}

	return &ColumnFile{header: h, index: recs}, nil
}

func (cf *ColumnFile) Header() Header                    { return cf.header }
func (cf *ColumnFile) GranuleCount() int                  { return len(cf.index) }
func (cf *ColumnFile) IndexRecord(i int) GranuleIndexRecord { return cf.index[i] }

// Granule decompresses granule i and returns a zero-copy archived view
// over the uncompressed bytes.
func (cf *ColumnFile) Granule(i int) (*ArchivedView, error) {
	rec := cf.index[i]
	end := rec.Offset + uint64(frameHeaderSize) + uint64(rec.CompressedLen)
	if end > uint64(len(cf.data)) {
		return nil, corruptGranuleErr("frame extends past end of file")
	}
	frame := cf.data[rec.Offset:end]
	uncompressed, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	return DecodeGranuleValues(cf.header.ValueType, cf.header.Nullable, uncompressed)
}

// ValidateColumnFileHeader opens path just far enough to check its
// magic and version, without mmap'ing the whole file or knowing the
// expected value type. Startup recovery uses this to triage parts
// before any scan touches them.
func ValidateColumnFileHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioErr("open column file for validation", err)
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return corruptPartErr("column file shorter than header")
	}
	if !bytes.Equal(buf[0:4], []byte(columnFileMagic)) {
		return corruptPartErr("bad column file magic")
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != columnFileVersion {
		return corruptPartErr(fmt.Sprintf("unsupported column file version %d", version))
	}
	return nil
}

// Close unmaps the file. It must only be called once the last scan
// referencing this handle has released it.
func (cf *ColumnFile) Close() error {
	var err error
	if cf.data != nil {
		err = cf.data.Unmap()
	}
	if cf.file != nil {
		if cerr := cf.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
