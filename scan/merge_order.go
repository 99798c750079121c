package scan

import (
	"container/heap"
	"sort"

	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/value"
)

// rowRef points at one materialized row within a partResult.
type rowRef struct {
	part *partResult
	idx  int
}

func partRowCount(p *partResult) int {
	for _, col := range p.data {
		return len(col)
	}
	return 0
}

func orderByLess(a, b rowRef, orderBy []string) bool {
	for _, col := range orderBy {
		av := a.part.data[col][a.idx]
		bv := b.part.data[col][b.idx]
		if av.Null != bv.Null {
			return av.Null // Nulls order before any non-null value of the same column
		}
		if av.Null {
			continue
		}
		c := value.Compare(av, bv)
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func sortRowRefs(rows []rowRef, orderBy []string) {
	sort.SliceStable(rows, func(i, j int) bool { return orderByLess(rows[i], rows[j], orderBy) })
}

// kWayMerge merges already order_by-sorted per-part row streams (each
// part is written internally sorted by its table's order_by) using a
// min-heap, avoiding a full re-sort when the requested order matches
// the table's own order.
func kWayMerge(parts []*partResult, orderBy []string, def *schema.Table) []rowRef {
	h := &mergeHeap{orderBy: orderBy}
	for _, p := range parts {
		n := partRowCount(p)
		if n > 0 {
			h.items = append(h.items, rowRef{part: p, idx: 0})
		}
	}
	heap.Init(h)

	var out []rowRef
	for h.Len() > 0 {
		top := h.items[0]
		out = append(out, top)
		n := partRowCount(top.part)
		if top.idx+1 < n {
			h.items[0] = rowRef{part: top.part, idx: top.idx + 1}
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

type mergeHeap struct {
	items   []rowRef
	orderBy []string
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return orderByLess(h.items[i], h.items[j], h.orderBy)
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(rowRef)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
