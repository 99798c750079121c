// Package engine implements per-table merge semantics as a closed set
// of strategies behind a single method, MergeRun.
package engine

import (
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/value"
)

// Row is one row of an already order_by-sorted, k-way-merged stream
// from two source parts. Origin is the upper bound of the source part's
// origin interval (the id of the newest writer-created part its rows
// descend from), so ReplacingMergeTree can break primary-key ties by
// creation time even when the physical source is itself the product of
// an earlier merge.
type Row struct {
	Values []value.Value
	Origin string
}

// TableEngine reduces a k-way-merged, order_by-sorted run of rows from
// two parts into the rows the merged part should contain.
type TableEngine interface {
	MergeRun(rows []Row, pkColumnIndexes []int) []Row
}

// For builds the TableEngine for def.Engine.
func For(def *schema.Table) TableEngine {
	switch def.Engine {
	case schema.ReplacingMergeTree:
		return replacingMergeTree{}
	default:
		return mergeTree{}
	}
}

// mergeTree performs no reduction: every row from both parts survives.
type mergeTree struct{}

func (mergeTree) MergeRun(rows []Row, _ []int) []Row { return rows }

// replacingMergeTree keeps only the row from the most-recently-created
// part within each run of consecutive rows sharing identical primary
// key values. Because the input is sorted by order_by, and primary_key
// is a prefix of order_by, rows sharing a primary key are always
// adjacent.
type replacingMergeTree struct{}

func (replacingMergeTree) MergeRun(rows []Row, pkColumnIndexes []int) []Row {
	if len(rows) == 0 {
		return rows
	}
	out := make([]Row, 0, len(rows))

	runStart := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && samePK(rows[runStart], rows[i], pkColumnIndexes) {
			continue
		}
		out = append(out, newestOf(rows[runStart:i]))
		runStart = i
	}
	return out
}

func samePK(a, b Row, pkColumnIndexes []int) bool {
	for _, ci := range pkColumnIndexes {
		if !value.Equal(a.Values[ci], b.Values[ci]) {
			return false
		}
	}
	return true
}

// newestOf returns the row whose Origin sorts greatest, i.e. descends
// from the part created last; part ids are time-ordered UUIDs, so
// lexicographic order is creation order.
func newestOf(run []Row) Row {
	newest := run[0]
	for _, r := range run[1:] {
		if r.Origin > newest.Origin {
			newest = r
		}
	}
	return newest
}
