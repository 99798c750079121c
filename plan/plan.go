// Package plan defines the physical plan interface TouchHouse's engine
// consumes. SQL text -> AST -> logical plan -> optimization -> physical
// plan happens in an external collaborator; this package only describes
// the ready plan shape the engine dispatches.
package plan

import "github.com/touchhouse/touchhouse/value"

// Node is the physical-plan sum type. Each concrete type below
// implements it as a marker; the set is closed.
type Node interface {
	isPlanNode()
}

type CreateDatabase struct {
	Name        string
	IfNotExists bool
}

type DropDatabase struct {
	Name     string
	IfExists bool
}

type CreateTable struct {
	Def         TableDef
	IfNotExists bool
}

// TableDef is the plan-level table definition; catalog/schema.Table is
// built from it by the exec package so that package plan stays free of
// a dependency on the storage engine's internal schema representation.
type TableDef struct {
	Database   string
	Name       string
	Columns    []ColumnDef
	Engine     string // "MergeTree" | "ReplacingMergeTree"
	PrimaryKey []string
	OrderBy    []string
}

type ColumnDef struct {
	Name         string
	Type         value.Type
	Nullable     bool
	DefaultValue *value.Value
}

type DropTable struct {
	Database string
	Name     string
	IfExists bool
}

type Insert struct {
	Database string
	Table    string
	Columns  []string
	Rows     [][]value.Value
}

type Scan struct {
	Database   string
	Table      string
	Projection []string
	Predicate  *Predicate // nil means no filtering
	OrderBy    []string   // nil means no ordering requested
	Limit      *int64     // nil means no limit
	Offset     int64
}

func (CreateDatabase) isPlanNode() {}
func (DropDatabase) isPlanNode()   {}
func (CreateTable) isPlanNode()    {}
func (DropTable) isPlanNode()      {}
func (Insert) isPlanNode()         {}
func (Scan) isPlanNode()           {}

// CompareOp is the comparison operator of a Predicate leaf.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// Predicate is the pushdown-eligible filter subset: And, Or, Not, and
// Compare(column, op, literal). Exactly one of the field groups below
// is set, selected by Kind.
type PredicateKind int

const (
	PredicateCompare PredicateKind = iota
	PredicateAnd
	PredicateOr
	PredicateNot
)

type Predicate struct {
	Kind PredicateKind

	// PredicateCompare
	Column  string
	Op      CompareOp
	Literal value.Value

	// PredicateAnd / PredicateOr
	Left, Right *Predicate

	// PredicateNot
	Operand *Predicate
}

func Compare(column string, op CompareOp, literal value.Value) *Predicate {
	return &Predicate{Kind: PredicateCompare, Column: column, Op: op, Literal: literal}
}

func And(left, right *Predicate) *Predicate {
	return &Predicate{Kind: PredicateAnd, Left: left, Right: right}
}

func Or(left, right *Predicate) *Predicate {
	return &Predicate{Kind: PredicateOr, Left: left, Right: right}
}

func Not(operand *Predicate) *Predicate {
	return &Predicate{Kind: PredicateNot, Operand: operand}
}

// Columns returns the set of column names a predicate references, used
// by the scanner to decide which column files to open.
func (p *Predicate) Columns() []string {
	if p == nil {
		return nil
	}
	seen := map[string]bool{}
	var walk func(*Predicate)
	walk = func(p *Predicate) {
		if p == nil {
			return
		}
		switch p.Kind {
		case PredicateCompare:
			seen[p.Column] = true
		case PredicateAnd, PredicateOr:
			walk(p.Left)
			walk(p.Right)
		case PredicateNot:
			walk(p.Operand)
		}
	}
	walk(p)
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}
