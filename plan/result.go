package plan

import "github.com/touchhouse/touchhouse/value"

// OutputColumn describes one column of an OutputTable.
type OutputColumn struct {
	Name string
	Type value.Type
}

// OutputTable is the column-major result the engine returns for a Scan,
// or an empty table for DDL/DML.
type OutputTable struct {
	Columns []OutputColumn
	Data    [][]value.Value // Data[i] holds Columns[i]'s values, one per row
}

func (t *OutputTable) RowCount() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// ColumnIndex returns the position of name in Columns, or -1.
func (t *OutputTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
