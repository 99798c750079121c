// Package scan implements the physical executor for SELECT: it
// projects, filters (with primary-key granule skipping), orders and
// limits rows from a table's parts, vectorized over granules.
package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	atomicu "go.uber.org/atomic"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/predicate"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/storage"
	"github.com/touchhouse/touchhouse/value"
)

// Scanner executes Scan plan nodes. It also tracks the process-wide
// active query count the Merger consults as a load signal before
// compacting.
type Scanner struct {
	logger      log.Logger
	activeCount *atomicu.Int64
	metrics     *metrics
}

type metrics struct {
	scansStarted       prometheus.Counter
	scansFailed        prometheus.Counter
	granulesSkipped    prometheus.Counter
	granulesDecompressed prometheus.Counter
}

func New(logger log.Logger, reg prometheus.Registerer) *Scanner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Scanner{
		logger:      logger,
		activeCount: atomicu.NewInt64(0),
		metrics: &metrics{
			scansStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_scans_started_total",
				Help: "Number of SELECT scans started.",
			}),
			scansFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_scans_failed_total",
				Help: "Number of SELECT scans that aborted with an error.",
			}),
			granulesSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_granules_skipped_total",
				Help: "Number of granules skipped via primary-key predicate pushdown.",
			}),
			granulesDecompressed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_granules_decompressed_total",
				Help: "Number of granules decompressed while scanning.",
			}),
		},
	}
}

// ActiveQueries reports the current number of in-flight scans, the load
// signal the Merger gates its ticks on.
func (s *Scanner) ActiveQueries() int64 { return s.activeCount.Load() }

// Scan executes req against table.
func (s *Scanner) Scan(ctx context.Context, table *catalog.Table, req plan.Scan) (*plan.OutputTable, error) {
	s.metrics.scansStarted.Inc()
	s.activeCount.Inc()
	defer s.activeCount.Dec()

	def := table.Definition()
	columnTypes := make(map[string]value.Type, len(def.Columns))
	for _, c := range def.Columns {
		columnTypes[c.Name] = c.Type
	}
	if err := predicate.Validate(req.Predicate, columnTypes); err != nil {
		s.metrics.scansFailed.Inc()
		return nil, err
	}
	for _, name := range req.Projection {
		if def.ColumnIndex(name) < 0 {
			s.metrics.scansFailed.Inc()
			return nil, touchhouse.NewError(touchhouse.KindSchemaViolation, "unknown projected column "+name)
		}
	}

	// Take the table's shared lock for the whole scan, then snapshot
	// the part list; releasing the lock is deferred to the end of the
	// scan so the snapshotted parts remain on disk.
	table.RLock()
	defer table.RUnlock()
	partIDs := table.Parts()

	materialized := unionColumns(req.Projection, req.OrderBy)
	needed := unionColumns(materialized, req.Predicate.Columns())

	pkSet := make(map[string]bool, len(def.PrimaryKey))
	for _, c := range def.PrimaryKey {
		pkSet[c] = true
	}

	partResults := make([]*partResult, len(partIDs))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)
	for i, partID := range partIDs {
		i, partID := i, partID
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.scanPart(ctx, table, partID, def, req, needed, materialized, pkSet, columnTypes)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			partResults[i] = res
		}()
	}
	wg.Wait()

	if firstErr != nil {
		s.metrics.scansFailed.Inc()
		return nil, firstErr
	}

	out := s.assemble(def, req, partResults)
	return out, nil
}

// partResult holds one part's contribution, column-major over req's
// projection and order_by columns, in the part's own order_by order.
type partResult struct {
	partID string
	data   map[string][]value.Value
}

func (s *Scanner) scanPart(
	ctx context.Context,
	table *catalog.Table,
	partID string,
	def *schema.Table,
	req plan.Scan,
	needed []string,
	materialized []string,
	pkSet map[string]bool,
	columnTypes map[string]value.Type,
) (*partResult, error) {
	part, err := table.AcquirePart(partID)
	if err != nil {
		level.Warn(s.logger).Log("msg", "skipping part with unreadable manifest", "part", partID, "err", err)
		return &partResult{partID: partID, data: emptyColumns(materialized)}, nil
	}
	defer table.ReleasePart(partID, part)

	files := make(map[string]*storage.ColumnFile, len(needed))
	for _, col := range needed {
		typ := columnTypes[col]
		cf, err := part.Open(col, typ)
		if err != nil {
			if touchhouse.Is(err, touchhouse.KindCorruptPart) {
				// Part-level corruption: skip this part and let the
				// enclosing SELECT continue over the others.
				level.Warn(s.logger).Log("msg", "quarantining corrupt part during scan", "part", partID, "err", err)
				return &partResult{partID: partID, data: emptyColumns(materialized)}, nil
			}
			return nil, err
		}
		files[col] = cf
	}

	granuleCount := 0
	if len(files) > 0 {
		for _, cf := range files {
			granuleCount = cf.GranuleCount()
			break
		}
	}

	result := &partResult{partID: partID, data: emptyColumns(materialized)}

	for g := 0; g < granuleCount; g++ {
		if err := ctx.Err(); err != nil {
			return nil, touchhouse.WrapError(touchhouse.KindCancelled, "scan cancelled", err)
		}

		intervals := map[string]predicate.Interval{}
		for col := range pkSet {
			cf, ok := files[col]
			if !ok {
				continue
			}
			rec := cf.IndexRecord(g)
			intervals[col] = predicate.Interval{HasMinMax: rec.HasMinMax, Min: rec.Min, Max: rec.Max}
		}

		if predicate.EvalInterval(req.Predicate, intervals) == predicate.False {
			s.metrics.granulesSkipped.Inc()
			continue
		}

		views := make(map[string]*storage.ArchivedView, len(files))
		granuleLen := 0
		for col, cf := range files {
			v, err := cf.Granule(g)
			if err != nil {
				return nil, err // CorruptGranule aborts the whole scan
			}
			views[col] = v
			granuleLen = v.Len()
		}
		s.metrics.granulesDecompressed.Inc()

		getter := func(col string, row int) value.Value { return views[col].At(row) }

		// Selection vector: which rows in this granule pass the predicate,
		// as a compressed bitmap rather than a bool slice.
		selected := roaring.New()
		for row := 0; row < granuleLen; row++ {
			if predicate.Selected(predicate.EvalRow(req.Predicate, row, getter)) {
				selected.Add(uint32(row))
			}
		}

		it := selected.Iterator()
		for it.HasNext() {
			row := int(it.Next())
			for _, col := range materialized {
				result.data[col] = append(result.data[col], views[col].At(row))
			}
		}
	}

	return result, nil
}

func unionColumns(groups ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, c := range g {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func emptyColumns(names []string) map[string][]value.Value {
	m := make(map[string][]value.Value, len(names))
	for _, n := range names {
		m[n] = nil
	}
	return m
}

// assemble concatenates per-part results, applies ordering, then
// offset/limit.
func (s *Scanner) assemble(def *schema.Table, req plan.Scan, parts []*partResult) *plan.OutputTable {
	var ordered []*partResult
	for _, p := range parts {
		if p != nil {
			ordered = append(ordered, p)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].partID < ordered[j].partID })

	var rows []rowRef
	if len(req.OrderBy) > 0 && sameOrder(req.OrderBy, def.OrderBy) {
		rows = kWayMerge(ordered, req.OrderBy, def)
	} else {
		for _, p := range ordered {
			n := partRowCount(p)
			for i := 0; i < n; i++ {
				rows = append(rows, rowRef{part: p, idx: i})
			}
		}
		if len(req.OrderBy) > 0 {
			sortRowRefs(rows, req.OrderBy)
		}
	}

	if req.Offset > 0 {
		if req.Offset >= int64(len(rows)) {
			rows = nil
		} else {
			rows = rows[req.Offset:]
		}
	}
	if req.Limit != nil && int64(len(rows)) > *req.Limit {
		rows = rows[:*req.Limit]
	}

	out := &plan.OutputTable{}
	for _, name := range req.Projection {
		typ, _ := def.Column(name)
		out.Columns = append(out.Columns, plan.OutputColumn{Name: name, Type: typ.Type})
	}
	out.Data = make([][]value.Value, len(req.Projection))
	for ci, name := range req.Projection {
		col := make([]value.Value, len(rows))
		for ri, r := range rows {
			col[ri] = r.part.data[name][r.idx]
		}
		out.Data[ci] = col
	}
	return out
}

func sameOrder(a, b []string) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
