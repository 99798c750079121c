// Package schema defines table and column definitions and the engine
// variants that drive merge semantics.
package schema

import (
	"fmt"

	"github.com/touchhouse/touchhouse/value"
)

// Engine is a tagged variant selecting merge semantics. The set is
// closed; no open extension is needed.
type Engine uint8

const (
	MergeTree Engine = iota
	ReplacingMergeTree
)

func (e Engine) String() string {
	switch e {
	case MergeTree:
		return "MergeTree"
	case ReplacingMergeTree:
		return "ReplacingMergeTree"
	default:
		return "Unknown"
	}
}

func ParseEngine(s string) (Engine, bool) {
	switch s {
	case "MergeTree":
		return MergeTree, true
	case "ReplacingMergeTree":
		return ReplacingMergeTree, true
	default:
		return 0, false
	}
}

// GranuleSize is fixed for the whole system.
// Headers still carry it per column file so a future release could vary
// it without a format break.
const GranuleSize = 8192

// Column is one column definition within a Table.
type Column struct {
	Name         string
	Type         value.Type
	Nullable     bool
	DefaultValue *value.Value
}

// Table is a table definition. The column index behind ColumnIndex is
// derived, populated by Validate.
type Table struct {
	Database  string
	Name      string
	Columns   []Column
	Engine    Engine
	PrimaryKey []string
	OrderBy    []string

	columnIndex map[string]int
}

// Validate checks that primary_key is a prefix of order_by, column
// names are unique, all referenced columns exist, and
// ReplacingMergeTree has a non-empty primary key.
func (t *Table) Validate() error {
	t.columnIndex = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := t.columnIndex[c.Name]; ok {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		t.columnIndex[c.Name] = i
	}

	if t.Engine == ReplacingMergeTree && len(t.PrimaryKey) == 0 {
		return fmt.Errorf("ReplacingMergeTree requires a non-empty primary key")
	}

	if len(t.PrimaryKey) > len(t.OrderBy) {
		return fmt.Errorf("primary_key must be a prefix of order_by")
	}
	for i, pk := range t.PrimaryKey {
		if t.OrderBy[i] != pk {
			return fmt.Errorf("primary_key must be a prefix of order_by")
		}
	}

	for _, name := range t.OrderBy {
		if _, ok := t.columnIndex[name]; !ok {
			return fmt.Errorf("order_by references unknown column %q", name)
		}
	}
	for _, name := range t.PrimaryKey {
		if _, ok := t.columnIndex[name]; !ok {
			return fmt.Errorf("primary_key references unknown column %q", name)
		}
	}
	return nil
}

// ColumnIndex returns the position of name in Columns, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t.columnIndex == nil {
		t.Validate() //nolint:errcheck // best-effort lazy index for callers that skipped Validate
	}
	if i, ok := t.columnIndex[name]; ok {
		return i
	}
	return -1
}

func (t *Table) Column(name string) (Column, bool) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return Column{}, false
	}
	return t.Columns[i], true
}

func (t *Table) GranuleSizeRows() int { return GranuleSize }
