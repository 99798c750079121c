package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse/codec"
	"github.com/touchhouse/touchhouse/storage"
	"github.com/touchhouse/touchhouse/value"
)

func TestGranuleFrameRoundTrip(t *testing.T) {
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	vals := []value.Value{value.Int64(1), value.Int64(2), value.NullValue(value.TypeInt64), value.Int64(4)}
	uncompressed, hasMinMax, min, max := storage.EncodeGranuleValues(value.TypeInt64, true, vals)
	require.True(t, hasMinMax)
	require.True(t, value.Equal(min, value.Int64(1)))
	require.True(t, value.Equal(max, value.Int64(4)))

	frame := storage.EncodeFrame(c, uncompressed)
	decoded, err := storage.DecodeFrame(frame)
	require.NoError(t, err)
	require.Equal(t, uncompressed, decoded)

	view, err := storage.DecodeGranuleValues(value.TypeInt64, true, decoded)
	require.NoError(t, err)
	require.Equal(t, 4, view.Len())
	require.True(t, view.IsNull(2))
	require.False(t, view.IsNull(0))
	require.True(t, value.Equal(view.At(0), value.Int64(1)))
	require.True(t, value.Equal(view.At(3), value.Int64(4)))
}

func TestGranuleFrameCRCMismatch(t *testing.T) {
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	uncompressed, _, _, _ := storage.EncodeGranuleValues(value.TypeInt64, false, []value.Value{value.Int64(1)})
	frame := storage.EncodeFrame(c, uncompressed)

	// Flip a bit in the payload to corrupt it without changing its length.
	corrupted := append([]byte(nil), frame...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = storage.DecodeFrame(corrupted)
	require.Error(t, err)
}

func TestStringGranuleRoundTrip(t *testing.T) {
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	vals := []value.Value{value.String("alpha"), value.String(""), value.NullValue(value.TypeString), value.String("delta")}
	uncompressed, hasMinMax, min, max := storage.EncodeGranuleValues(value.TypeString, true, vals)
	require.True(t, hasMinMax)
	require.True(t, value.Equal(min, value.String("")))
	require.True(t, value.Equal(max, value.String("delta")))

	frame := storage.EncodeFrame(c, uncompressed)
	decoded, err := storage.DecodeFrame(frame)
	require.NoError(t, err)

	view, err := storage.DecodeGranuleValues(value.TypeString, true, decoded)
	require.NoError(t, err)
	require.True(t, view.IsNull(2))
	require.Equal(t, "alpha", view.At(0).Str)
	require.Equal(t, "delta", view.At(3).Str)
}

func TestColumnFileWriteAndOpen(t *testing.T) {
	dir := t.TempDir()
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	w := storage.NewColumnFileWriter(value.TypeUint64, false, c)
	w.SetGranuleSize(4)
	w.AddGranule([]value.Value{value.Uint64(1), value.Uint64(2), value.Uint64(3), value.Uint64(4)})
	w.AddGranule([]value.Value{value.Uint64(5), value.Uint64(6)})

	path := filepath.Join(dir, "id.bin")
	require.NoError(t, w.WriteFile(path))

	cf, err := storage.OpenColumnFile(path, value.TypeUint64)
	require.NoError(t, err)
	defer cf.Close()

	require.Equal(t, 2, cf.GranuleCount())

	v0, err := cf.Granule(0)
	require.NoError(t, err)
	require.Equal(t, 4, v0.Len())
	require.True(t, value.Equal(v0.At(3), value.Uint64(4)))

	v1, err := cf.Granule(1)
	require.NoError(t, err)
	require.Equal(t, 2, v1.Len())
	require.True(t, value.Equal(v1.At(1), value.Uint64(6)))

	rec := cf.IndexRecord(0)
	require.True(t, rec.HasMinMax)
	require.True(t, value.Equal(rec.Min, value.Uint64(1)))
	require.True(t, value.Equal(rec.Max, value.Uint64(4)))
}

func TestColumnFileRejectsTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	w := storage.NewColumnFileWriter(value.TypeInt64, false, c)
	w.AddGranule([]value.Value{value.Int64(1)})
	path := filepath.Join(dir, "x.bin")
	require.NoError(t, w.WriteFile(path))

	_, err = storage.OpenColumnFile(path, value.TypeString)
	require.Error(t, err)
}

func TestWritePartAtomicAndReadManifest(t *testing.T) {
	tableDir := t.TempDir()
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	idWriter := storage.NewColumnFileWriter(value.TypeUint64, false, c)
	idWriter.AddGranule([]value.Value{value.Uint64(1), value.Uint64(2)})
	nameWriter := storage.NewColumnFileWriter(value.TypeString, false, c)
	nameWriter.AddGranule([]value.Value{value.String("a"), value.String("b")})

	partID := storage.NewPartID()
	dir, err := storage.WritePart(tableDir, partID, 2, "MergeTree", partID, partID, []storage.ColumnData{
		{Name: "id", Type: value.TypeUint64, Writer: idWriter},
		{Name: "name", Type: value.TypeString, Writer: nameWriter},
	})
	require.NoError(t, err)

	m, err := storage.ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, partID, m.PartID)
	require.Equal(t, uint64(2), m.RowCount)
	require.ElementsMatch(t, []string{"id", "name"}, m.Columns)
	require.Equal(t, partID, m.OriginLo())
	require.Equal(t, partID, m.OriginHi())

	part, err := storage.OpenPart(dir)
	require.NoError(t, err)
	part.Acquire()
	cf, err := part.Open("id", value.TypeUint64)
	require.NoError(t, err)
	g, err := cf.Granule(0)
	require.NoError(t, err)
	require.True(t, value.Equal(g.At(0), value.Uint64(1)))
	require.NoError(t, part.Release())
}

func TestPartDeletionDeferredUntilLastRelease(t *testing.T) {
	tableDir := t.TempDir()
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)
	w := storage.NewColumnFileWriter(value.TypeUint64, false, c)
	w.AddGranule([]value.Value{value.Uint64(1)})

	partID := storage.NewPartID()
	dir, err := storage.WritePart(tableDir, partID, 1, "MergeTree", partID, partID, []storage.ColumnData{
		{Name: "id", Type: value.TypeUint64, Writer: w},
	})
	require.NoError(t, err)

	part, err := storage.OpenPart(dir)
	require.NoError(t, err)
	part.Acquire()
	part.Acquire()

	require.NoError(t, part.RequestDelete())
	require.DirExists(t, dir)

	require.NoError(t, part.Release())
	require.DirExists(t, dir)

	require.NoError(t, part.Release())
	require.NoDirExists(t, dir)
}
