package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/exec"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/scan"
	"github.com/touchhouse/touchhouse/value"
	"github.com/touchhouse/touchhouse/writer"
)

func newExecutor(t *testing.T) *exec.Executor {
	cat, err := catalog.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	return exec.New(cat, writer.New(nil, nil), scan.New(nil, nil))
}

func TestExecuteFullLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t)

	_, err := e.Execute(ctx, plan.CreateDatabase{Name: "db"})
	require.NoError(t, err)

	_, err = e.Execute(ctx, plan.CreateTable{Def: plan.TableDef{
		Database: "db",
		Name:     "events",
		Engine:   "MergeTree",
		Columns: []plan.ColumnDef{
			{Name: "id", Type: value.TypeUint64},
			{Name: "payload", Type: value.TypeString, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		OrderBy:    []string{"id"},
	}})
	require.NoError(t, err)

	_, err = e.Execute(ctx, plan.Insert{
		Database: "db",
		Table:    "events",
		Columns:  []string{"id", "payload"},
		Rows: [][]value.Value{
			{value.Uint64(2), value.String("b")},
			{value.Uint64(1), value.String("a")},
		},
	})
	require.NoError(t, err)

	out, err := e.Execute(ctx, plan.Scan{
		Database:   "db",
		Table:      "events",
		Projection: []string{"id", "payload"},
		OrderBy:    []string{"id"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, uint64(1), out.Data[0][0].Uint)

	_, err = e.Execute(ctx, plan.DropTable{Database: "db", Name: "events"})
	require.NoError(t, err)
	_, err = e.Execute(ctx, plan.DropDatabase{Name: "db"})
	require.NoError(t, err)
}

func TestExecuteUnknownDatabaseReturnsNotFound(t *testing.T) {
	e := newExecutor(t)
	_, err := e.Execute(context.Background(), plan.Scan{Database: "nope", Table: "t"})
	require.True(t, touchhouse.Is(err, touchhouse.KindNotFound))
}
