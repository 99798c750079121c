package writer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/value"
	"github.com/touchhouse/touchhouse/writer"
)

func newTestTable(t *testing.T) *catalog.Table {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	def := &schema.Table{
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
	table, err := db.CreateTable(def, false)
	require.NoError(t, err)
	return table
}

func TestInsertSortsAndRegistersPart(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	n, err := w.Insert(table, []string{"id", "name"}, [][]value.Value{
		{value.Uint64(3), value.String("C")},
		{value.Uint64(1), value.String("A")},
		{value.Uint64(2), value.String("B")},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
	require.Len(t, table.Parts(), 1)
}

func TestInsertFillsDefaultsAndNulls(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	n, err := w.Insert(table, []string{"id"}, [][]value.Value{
		{value.Uint64(1)},
		{value.Uint64(2)},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func TestInsertRejectsUnknownColumn(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	_, err := w.Insert(table, []string{"bogus"}, [][]value.Value{{value.Uint64(1)}})
	require.True(t, touchhouse.Is(err, touchhouse.KindSchemaViolation))
}

func TestInsertRejectsTypeMismatch(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	_, err := w.Insert(table, []string{"id"}, [][]value.Value{{value.String("not-a-uint")}})
	require.True(t, touchhouse.Is(err, touchhouse.KindSchemaViolation))
}

func TestInsertRejectsMissingNonNullableColumn(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	_, err := w.Insert(table, []string{"name"}, [][]value.Value{{value.String("only-name")}})
	require.True(t, touchhouse.Is(err, touchhouse.KindSchemaViolation))
}

func TestConcurrentInsertsProduceIndependentParts(t *testing.T) {
	table := newTestTable(t)
	w := writer.New(nil, nil)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		base := uint64(i * 1000)
		go func(base uint64) {
			rows := make([][]value.Value, 0, 10)
			for j := uint64(0); j < 10; j++ {
				rows = append(rows, []value.Value{value.Uint64(base + j)})
			}
			_, err := w.Insert(table, []string{"id"}, rows)
			done <- err
		}(base)
	}
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.Len(t, table.Parts(), 2)
}
