// Package predicate implements three-valued evaluation of the pushdown
// predicate tree: per-granule min/max skipping restricted to
// primary-key comparisons, and per-row selection over decoded granule
// views. Null compares unequal to everything including itself, so both
// levels use a Decision of True/False/Unknown rather than a plain bool.
package predicate

import (
	"fmt"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/value"
)

// Validate rejects cross-type comparisons up front rather than
// returning Null at evaluation time, which keeps results predictable.
// An unknown column is a SchemaViolation, a cross-type comparison is
// Unsupported.
func Validate(p *plan.Predicate, columnTypes map[string]value.Type) error {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case plan.PredicateCompare:
		typ, ok := columnTypes[p.Column]
		if !ok {
			return touchhouse.NewError(touchhouse.KindSchemaViolation, fmt.Sprintf("predicate references unknown column %q", p.Column))
		}
		if !p.Literal.Null && p.Literal.Typ != typ {
			return touchhouse.NewError(touchhouse.KindUnsupported, fmt.Sprintf("cannot compare column %q (%v) with literal of type %v", p.Column, typ, p.Literal.Typ))
		}
		return nil
	case plan.PredicateAnd, plan.PredicateOr:
		if err := Validate(p.Left, columnTypes); err != nil {
			return err
		}
		return Validate(p.Right, columnTypes)
	case plan.PredicateNot:
		return Validate(p.Operand, columnTypes)
	default:
		return nil
	}
}

// Decision is the result of evaluating a predicate against either a
// granule's [min,max] interval or a single row's values.
type Decision int

const (
	Unknown Decision = iota
	True
	False
)

func not(d Decision) Decision {
	switch d {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func and(a, b Decision) Decision {
	if a == False || b == False {
		return False
	}
	if a == True && b == True {
		return True
	}
	return Unknown
}

func or(a, b Decision) Decision {
	if a == True || b == True {
		return True
	}
	if a == False && b == False {
		return False
	}
	return Unknown
}

// Interval is a granule's [min,max] for one column (storage.GranuleIndexRecord,
// but expressed here without depending on package storage to keep this
// package dependency-light; callers convert).
type Interval struct {
	HasMinMax bool
	Min, Max  value.Value
}

// EvalInterval decides whether p can be proven False given per-column
// [min,max] intervals: a granule is kept unless the predicate
// restricted to primary-key comparisons is provably false over its
// range. Columns absent from intervals (non-PK columns) always decide
// Unknown, so they never cause a granule to be skipped.
func EvalInterval(p *plan.Predicate, intervals map[string]Interval) Decision {
	if p == nil {
		return True
	}
	switch p.Kind {
	case plan.PredicateCompare:
		iv, ok := intervals[p.Column]
		if !ok || !iv.HasMinMax {
			return Unknown
		}
		return compareInterval(iv, p.Op, p.Literal)
	case plan.PredicateAnd:
		return and(EvalInterval(p.Left, intervals), EvalInterval(p.Right, intervals))
	case plan.PredicateOr:
		return or(EvalInterval(p.Left, intervals), EvalInterval(p.Right, intervals))
	case plan.PredicateNot:
		return not(EvalInterval(p.Operand, intervals))
	default:
		return Unknown
	}
}

func compareInterval(iv Interval, op plan.CompareOp, lit value.Value) Decision {
	if !value.Comparable(iv.Min, lit) {
		return Unknown
	}
	cmpMin := value.Compare(iv.Min, lit)
	cmpMax := value.Compare(iv.Max, lit)

	switch op {
	case plan.OpEq:
		if cmpMin > 0 || cmpMax < 0 {
			return False
		}
		if cmpMin == 0 && cmpMax == 0 {
			return True
		}
		return Unknown
	case plan.OpNeq:
		if cmpMin == 0 && cmpMax == 0 {
			return False
		}
		return Unknown
	case plan.OpLt:
		if cmpMax < 0 {
			return True
		}
		if cmpMin >= 0 {
			return False
		}
		return Unknown
	case plan.OpLte:
		if cmpMax <= 0 {
			return True
		}
		if cmpMin > 0 {
			return False
		}
		return Unknown
	case plan.OpGt:
		if cmpMin > 0 {
			return True
		}
		if cmpMax <= 0 {
			return False
		}
		return Unknown
	case plan.OpGte:
		if cmpMin >= 0 {
			return True
		}
		if cmpMax < 0 {
			return False
		}
		return Unknown
	default:
		return Unknown
	}
}

// RowGetter returns the value of a named column at row i, used by
// EvalRow so this package stays independent of storage.ArchivedView's
// concrete type.
type RowGetter func(column string, row int) value.Value

// EvalRow evaluates p against a single row using three-valued logic: a
// comparison against a Null operand is Unknown, never True — Null
// compares unequal to everything including itself.
func EvalRow(p *plan.Predicate, row int, get RowGetter) Decision {
	if p == nil {
		return True
	}
	switch p.Kind {
	case plan.PredicateCompare:
		v := get(p.Column, row)
		return compareRow(v, p.Op, p.Literal)
	case plan.PredicateAnd:
		return and(EvalRow(p.Left, row, get), EvalRow(p.Right, row, get))
	case plan.PredicateOr:
		return or(EvalRow(p.Left, row, get), EvalRow(p.Right, row, get))
	case plan.PredicateNot:
		return not(EvalRow(p.Operand, row, get))
	default:
		return Unknown
	}
}

func compareRow(v value.Value, op plan.CompareOp, lit value.Value) Decision {
	if v.Null || lit.Null {
		return Unknown
	}
	if !value.Comparable(v, lit) {
		// Cross-type comparisons are rejected by Validate; reaching
		// here would be an engine bug, not a normal Unknown.
		return Unknown
	}
	c := value.Compare(v, lit)
	switch op {
	case plan.OpEq:
		return boolDecision(c == 0)
	case plan.OpNeq:
		return boolDecision(c != 0)
	case plan.OpLt:
		return boolDecision(c < 0)
	case plan.OpLte:
		return boolDecision(c <= 0)
	case plan.OpGt:
		return boolDecision(c > 0)
	case plan.OpGte:
		return boolDecision(c >= 0)
	default:
		return Unknown
	}
}

func boolDecision(b bool) Decision {
	if b {
		return True
	}
	return False
}

// Selected reports the final row-emission rule: a row is emitted only
// when the predicate evaluates to True — Unknown (from a Null
// comparison) does not select the row.
func Selected(d Decision) bool { return d == True }
