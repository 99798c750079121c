package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/codec"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/storage"
	"github.com/touchhouse/touchhouse/value"
	"github.com/touchhouse/touchhouse/writer"
)

func idTable() *schema.Table {
	return &schema.Table{
		Database: "db",
		Name:     "t",
		Engine:   schema.MergeTree,
		Columns: []schema.Column{
			{Name: "id", Type: value.TypeUint64},
			{Name: "name", Type: value.TypeString, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		OrderBy:    []string{"id"},
	}
}

func TestCreateDatabaseAndTable(t *testing.T) {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)

	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)

	_, err = cat.CreateDatabase("db", false)
	require.True(t, touchhouse.Is(err, touchhouse.KindAlreadyExists))

	_, err = cat.CreateDatabase("db", true)
	require.NoError(t, err)

	table, err := db.CreateTable(idTable(), false)
	require.NoError(t, err)
	require.Equal(t, "t", table.Definition().Name)

	require.DirExists(t, filepath.Join(db.Dir(), "t"))
	require.FileExists(t, filepath.Join(db.Dir(), "t", "schema.inf"))
}

func TestDropDatabaseRequiresEmpty(t *testing.T) {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	_, err = db.CreateTable(idTable(), false)
	require.NoError(t, err)

	err = cat.DropDatabase("db", false)
	require.True(t, touchhouse.Is(err, touchhouse.KindNotEmpty))

	require.NoError(t, db.DropTable("t", false))
	require.NoError(t, cat.DropDatabase("db", false))
}

func TestRegisterAndReplaceParts(t *testing.T) {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	table, err := db.CreateTable(idTable(), false)
	require.NoError(t, err)

	table.RegisterPart("p1")
	table.RegisterPart("p2")
	require.ElementsMatch(t, []string{"p1", "p2"}, table.Parts())

	require.NoError(t, table.ReplaceParts([]string{"p1", "p2"}, "p3"))
	require.Equal(t, []string{"p3"}, table.Parts())

	err = table.ReplaceParts([]string{"p1"}, "p4")
	require.True(t, touchhouse.Is(err, touchhouse.KindNotFound))
}

func TestRecoveryDiscardsOrphanFromInterruptedMerge(t *testing.T) {
	dir := t.TempDir()
	cat, err := catalog.Open(dir, nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	table, err := db.CreateTable(idTable(), false)
	require.NoError(t, err)

	w := writer.New(nil, nil)
	_, err = w.Insert(table, []string{"id"}, [][]value.Value{{value.Uint64(1)}})
	require.NoError(t, err)
	_, err = w.Insert(table, []string{"id"}, [][]value.Value{{value.Uint64(2)}})
	require.NoError(t, err)
	sources := table.Parts()
	require.Len(t, sources, 2)

	// Simulate a merge that crashed after writing its output but before
	// swapping the part list: a fully valid part whose origin interval
	// spans both still-present sources.
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)
	idW := storage.NewColumnFileWriter(value.TypeUint64, false, c)
	idW.AddGranule([]value.Value{value.Uint64(1), value.Uint64(2)})
	nameW := storage.NewColumnFileWriter(value.TypeString, true, c)
	nameW.AddGranule([]value.Value{value.NullValue(value.TypeString), value.NullValue(value.TypeString)})
	orphanID := storage.NewPartID()
	_, err = storage.WritePart(table.Dir(), orphanID, 2, "MergeTree", sources[0], sources[1], []storage.ColumnData{
		{Name: "id", Type: value.TypeUint64, Writer: idW},
		{Name: "name", Type: value.TypeString, Nullable: true, Writer: nameW},
	})
	require.NoError(t, err)

	cat2, err := catalog.Open(dir, nil, nil)
	require.NoError(t, err)
	db2, ok := cat2.Database("db")
	require.True(t, ok)
	table2, ok := db2.Table("t")
	require.True(t, ok)
	require.ElementsMatch(t, sources, table2.Parts())
	require.NoDirExists(t, filepath.Join(table2.Dir(), orphanID))
}

func TestRecoveryRebuildsCatalogAndSchema(t *testing.T) {
	dir := t.TempDir()
	cat, err := catalog.Open(dir, nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	_, err = db.CreateTable(idTable(), false)
	require.NoError(t, err)

	// Simulate a crashed insert: a temp dir and an incomplete part dir.
	tableDir := filepath.Join(db.Dir(), "t")
	require.NoError(t, os.MkdirAll(filepath.Join(tableDir, ".tmp-abc"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(tableDir, "incomplete-part"), 0o750))

	cat2, err := catalog.Open(dir, nil, nil)
	require.NoError(t, err)
	db2, ok := cat2.Database("db")
	require.True(t, ok)
	table2, ok := db2.Table("t")
	require.True(t, ok)
	require.Empty(t, table2.Parts())

	require.NoDirExists(t, filepath.Join(tableDir, ".tmp-abc"))
	require.NoDirExists(t, filepath.Join(tableDir, "incomplete-part"))
}
