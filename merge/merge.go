// Package merge implements the background compaction worker: a single
// process-wide worker that, while system load permits, picks the two
// adjacent parts of a table with the smallest combined row count,
// merges them by the table's engine semantics, and atomically swaps
// them in.
package merge

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/codec"
	"github.com/touchhouse/touchhouse/engine"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/storage"
	"github.com/touchhouse/touchhouse/value"
)

// LoadSource reports the scalar "active query count" the merger gates
// its ticks on, satisfied by *scan.Scanner.ActiveQueries.
type LoadSource interface {
	ActiveQueries() int64
}

// Merger runs the single background merge worker.
type Merger struct {
	logger                        log.Logger
	codec                         codec.Codec
	load                          LoadSource
	backgroundMergeAvailableUnder int64
	gracePeriod                   time.Duration
	metrics                       *metrics
}

type metrics struct {
	mergesAttempted prometheus.Counter
	mergesSkipped   prometheus.Counter
	rowsMerged      prometheus.Counter
}

// New builds a Merger. load supplies the executor's active query count;
// backgroundMergeAvailableUnder is the configured load threshold
// (default 5).
func New(logger log.Logger, reg prometheus.Registerer, load LoadSource, backgroundMergeAvailableUnder int64) *Merger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c, err := codec.ByID(codec.Snappy)
	if err != nil {
		panic(err)
	}
	return &Merger{
		logger:                        logger,
		codec:                         c,
		load:                          load,
		backgroundMergeAvailableUnder: backgroundMergeAvailableUnder,
		gracePeriod:                   100 * time.Millisecond,
		metrics: &metrics{
			mergesAttempted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_merges_attempted_total",
				Help: "Number of merge attempts started by the background worker.",
			}),
			mergesSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_merges_skipped_total",
				Help: "Number of merge ticks skipped due to load or lack of candidates.",
			}),
			rowsMerged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_rows_merged_total",
				Help: "Number of rows processed by completed merges.",
			}),
		},
	}
}

// Run drives the worker loop until ctx is cancelled, ticking every
// interval.
func (m *Merger) Run(ctx context.Context, cat *catalog.Catalog, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, cat)
		}
	}
}

// Tick inspects load and, if permitted, performs one merge for every
// table that has an eligible candidate pair.
func (m *Merger) Tick(ctx context.Context, cat *catalog.Catalog) {
	if m.load != nil && m.load.ActiveQueries() > m.backgroundMergeAvailableUnder {
		m.metrics.mergesSkipped.Inc()
		return
	}
	for _, db := range cat.Databases() {
		for _, table := range db.Tables() {
			if err := ctx.Err(); err != nil {
				return
			}
			if _, err := m.MergeOnce(ctx, table); err != nil {
				level.Error(m.logger).Log("msg", "merge failed", "table", table.Definition().Name, "err", err)
			}
		}
	}
}

// MergeOnce performs at most one merge for table: it selects the
// adjacent pair of parts with the smallest combined row count and
// merges them. It returns false if the table has fewer than two parts.
func (m *Merger) MergeOnce(ctx context.Context, table *catalog.Table) (bool, error) {
	table.RLock()
	partIDs := table.Parts()
	table.RUnlock()
	if len(partIDs) < 2 {
		m.metrics.mergesSkipped.Inc()
		return false, nil
	}

	type candidate struct {
		id       string
		manifest storage.Manifest
	}
	cands := make([]candidate, len(partIDs))
	for i, id := range partIDs {
		man, err := storage.ReadManifest(table.PartPath(id))
		if err != nil {
			return false, err
		}
		cands[i] = candidate{id: id, manifest: man}
	}

	// Adjacency is by origin interval, not by the physical part id: a
	// merged part keeps its sources' position in insert order even
	// though its own id is fresher. Intervals are disjoint, so sorting
	// by the lower bound is a total order.
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].manifest.OriginLo() < cands[j].manifest.OriginLo()
	})

	best := 0
	bestSum := cands[0].manifest.RowCount + cands[1].manifest.RowCount
	for i := 1; i < len(cands)-1; i++ {
		if sum := cands[i].manifest.RowCount + cands[i+1].manifest.RowCount; sum < bestSum {
			best, bestSum = i, sum
		}
	}
	left, right := cands[best], cands[best+1]

	m.metrics.mergesAttempted.Inc()
	return true, m.mergePair(ctx, table, left.id, right.id, left.manifest.OriginLo(), right.manifest.OriginHi())
}

// mergePair streams one source pair into a replacement part and swaps
// it in. left is the earlier part by origin order; originMin/originMax
// delimit the union of the sources' origin intervals, recorded in the
// new part's manifest.
func (m *Merger) mergePair(ctx context.Context, table *catalog.Table, leftID, rightID, originMin, originMax string) error {
	def := table.Definition()

	// Step 1: acquire each source part's read-mmap without holding the
	// table lock while streaming.
	leftPart, err := table.AcquirePart(leftID)
	if err != nil {
		return err
	}
	defer table.ReleasePart(leftID, leftPart)

	rightPart, err := table.AcquirePart(rightID)
	if err != nil {
		return err
	}
	defer table.ReleasePart(rightID, rightPart)

	leftRows, err := loadPartRows(ctx, leftPart, def)
	if err != nil {
		return err
	}
	rightRows, err := loadPartRows(ctx, rightPart, def)
	if err != nil {
		return err
	}

	orderByIdx := make([]int, len(def.OrderBy))
	for i, name := range def.OrderBy {
		orderByIdx[i] = def.ColumnIndex(name)
	}
	merged := twoWayMerge(leftRows, rightRows, orderByIdx)

	pkIdx := make([]int, len(def.PrimaryKey))
	for i, name := range def.PrimaryKey {
		pkIdx[i] = def.ColumnIndex(name)
	}
	reduced := engine.For(def).MergeRun(merged, pkIdx)

	// Step 2: write the new part atomically with a freshly generated id.
	newPartID := storage.NewPartID()
	colData := make([]storage.ColumnData, len(def.Columns))
	for ci, col := range def.Columns {
		cfw := storage.NewColumnFileWriter(col.Type, col.Nullable, m.codec)
		cfw.SetGranuleSize(schema.GranuleSize)
		for start := 0; start < len(reduced); start += schema.GranuleSize {
			end := start + schema.GranuleSize
			if end > len(reduced) {
				end = len(reduced)
			}
			vals := make([]value.Value, end-start)
			for i := start; i < end; i++ {
				vals[i-start] = reduced[i].Values[ci]
			}
			cfw.AddGranule(vals)
		}
		colData[ci] = storage.ColumnData{Name: col.Name, Type: col.Type, Nullable: col.Nullable, Writer: cfw}
	}
	if _, err := storage.WritePart(table.Dir(), newPartID, uint64(len(reduced)), def.Engine.String(), originMin, originMax, colData); err != nil {
		return err
	}

	// Step 3: under the table's exclusive lock, verify both sources are
	// still present, register the new part, unregister the sources.
	if err := table.ReplaceParts([]string{leftID, rightID}, newPartID); err != nil {
		// A concurrent swap already consumed one of the sources; the
		// new part we just wrote is an orphan. Its content is equal to
		// or a strict improvement over the sources, so leaving it
		// unregistered would be safe, but it was never registered, so
		// remove it immediately.
		table.RequestDeletePart(newPartID)
		return err
	}

	m.metrics.rowsMerged.Add(float64(len(merged)))

	// Step 4: delete the source part directories after a grace period
	// ensuring no live scanner references their mmaps.
	go func() {
		time.Sleep(m.gracePeriod)
		if err := table.RequestDeletePart(leftID); err != nil {
			level.Error(m.logger).Log("msg", "failed to delete merged source part", "part", leftID, "err", err)
		}
		if err := table.RequestDeletePart(rightID); err != nil {
			level.Error(m.logger).Log("msg", "failed to delete merged source part", "part", rightID, "err", err)
		}
	}()

	return nil
}

// loadPartRows materializes every row of part in its stored order_by
// order, tagging each with the part's origin upper bound so
// engine.TableEngine can break primary-key ties by creation time.
func loadPartRows(ctx context.Context, part *storage.Part, def *schema.Table) ([]engine.Row, error) {
	files := make([]*storage.ColumnFile, len(def.Columns))
	for i, col := range def.Columns {
		cf, err := part.Open(col.Name, col.Type)
		if err != nil {
			return nil, err
		}
		files[i] = cf
	}

	granuleCount := 0
	if len(files) > 0 {
		granuleCount = files[0].GranuleCount()
	}

	var rows []engine.Row
	for g := 0; g < granuleCount; g++ {
		if err := ctx.Err(); err != nil {
			return nil, touchhouse.WrapError(touchhouse.KindCancelled, "merge cancelled", err)
		}
		views := make([]*storage.ArchivedView, len(files))
		granuleLen := 0
		for i, cf := range files {
			v, err := cf.Granule(g)
			if err != nil {
				return nil, err
			}
			views[i] = v
			granuleLen = v.Len()
		}
		for row := 0; row < granuleLen; row++ {
			vals := make([]value.Value, len(views))
			for i, v := range views {
				vals[i] = v.At(row)
			}
			rows = append(rows, engine.Row{Values: vals, Origin: part.Manifest.OriginHi()})
		}
	}
	return rows, nil
}

// twoWayMerge stably merges two order_by-sorted row streams.
func twoWayMerge(a, b []engine.Row, orderByIdx []int) []engine.Row {
	out := make([]engine.Row, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		// Stable: on equal keys the left (older) part's row goes first.
		if rowLess(b[j], a[i], orderByIdx) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func rowLess(a, b engine.Row, orderByIdx []int) bool {
	for _, ci := range orderByIdx {
		c := value.CompareForSort(a.Values[ci], b.Values[ci])
		if c != 0 {
			return c < 0
		}
	}
	return false
}
