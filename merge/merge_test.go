package merge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/merge"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/scan"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/value"
	"github.com/touchhouse/touchhouse/writer"
)

func newTable(t *testing.T, eng schema.Engine) *catalog.Table {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	db, err := cat.CreateDatabase("db", false)
	require.NoError(t, err)
	def := &schema.Table{
		Database: "db",
		Name:     "t",
		Engine:   eng,
		Columns: []schema.Column{
			{Name: "id", Type: value.TypeUint64},
			{Name: "v", Type: value.TypeString},
		},
		PrimaryKey: []string{"id"},
		OrderBy:    []string{"id"},
	}
	table, err := db.CreateTable(def, false)
	require.NoError(t, err)
	return table
}

func TestMergeOnceMergeTreeKeepsAllRows(t *testing.T) {
	table := newTable(t, schema.MergeTree)
	w := writer.New(nil, nil)
	_, err := w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(1), value.String("a")}})
	require.NoError(t, err)
	_, err = w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(2), value.String("b")}})
	require.NoError(t, err)
	require.Len(t, table.Parts(), 2)

	m := merge.New(nil, nil, nil, 5)
	ok, err := m.MergeOnce(context.Background(), table)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, table.Parts(), 1)

	s := scan.New(nil, nil)
	out, err := s.Scan(context.Background(), table, plan.Scan{Projection: []string{"id", "v"}, OrderBy: []string{"id"}})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount())
}

func TestMergeOnceReplacingMergeTreeKeepsNewest(t *testing.T) {
	table := newTable(t, schema.ReplacingMergeTree)
	w := writer.New(nil, nil)
	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(1), value.String(v)}})
		require.NoError(t, err)
	}
	require.Len(t, table.Parts(), 3)

	// First merge combines the two oldest parts (smallest combined row
	// count ties resolve to the leftmost adjacent pair): v2 survives.
	m := merge.New(nil, nil, nil, 5)
	ok, err := m.MergeOnce(context.Background(), table)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, table.Parts(), 2)

	s := scan.New(nil, nil)
	out, err := s.Scan(context.Background(), table, plan.Scan{Projection: []string{"v"}})
	require.NoError(t, err)
	vs := make([]string, 0, out.RowCount())
	for _, v := range out.Data[0] {
		vs = append(vs, v.Str)
	}
	require.ElementsMatch(t, []string{"v2", "v3"}, vs)

	// Second merge fully compacts the table: exactly one row per primary
	// key remains, carrying the newest value.
	ok, err = m.MergeOnce(context.Background(), table)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, table.Parts(), 1)

	out, err = s.Scan(context.Background(), table, plan.Scan{Projection: []string{"id", "v"}})
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, "v3", out.Data[out.ColumnIndex("v")][0].Str)
}

func TestMergeOnceSkipsTableWithSinglePart(t *testing.T) {
	table := newTable(t, schema.MergeTree)
	w := writer.New(nil, nil)
	_, err := w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(1), value.String("a")}})
	require.NoError(t, err)

	m := merge.New(nil, nil, nil, 5)
	ok, err := m.MergeOnce(context.Background(), table)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTickSkipsWhenLoadAboveThreshold(t *testing.T) {
	table := newTable(t, schema.MergeTree)
	w := writer.New(nil, nil)
	_, err := w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(1), value.String("a")}})
	require.NoError(t, err)
	_, err = w.Insert(table, []string{"id", "v"}, [][]value.Value{{value.Uint64(2), value.String("b")}})
	require.NoError(t, err)

	load := fakeLoad{n: 10}
	m := merge.New(nil, nil, load, 5)
	m.Tick(context.Background(), nil) // load gate trips before touching the catalog
	require.Len(t, table.Parts(), 2)
}

type fakeLoad struct{ n int64 }

func (f fakeLoad) ActiveQueries() int64 { return f.n }
