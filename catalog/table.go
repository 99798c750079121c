package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	atomicu "go.uber.org/atomic"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/schema"
)

// Table is the in-memory state of a table: its
// definition, the ordered set of part ids currently registered, and the
// per-table RW lock. Scans and the merger's read phase hold
// this lock shared; Writer registration, the merger's swap step, and
// DROP TABLE hold it exclusive.
type Table struct {
	mu  sync.RWMutex
	def *schema.Table
	dir string

	// parts is kept sorted by part_id, which is itself time-ordered,
	// giving a total order of part registrations.
	parts []string

	mergePressureHint *atomicu.Int64

	// handleCache caches open part handles so scans and the merger share a
	// single reference count per part_id (see parts.go).
	handleCache *partHandles

	metrics *tableMetrics
}

func newTable(def *schema.Table, dir string, reg Registerer) *Table {
	return &Table{
		def:               def,
		dir:               dir,
		mergePressureHint: atomicu.NewInt64(0),
		handleCache:       newPartHandles(),
		metrics:           newTableMetrics(reg, def.Name),
	}
}

func (t *Table) Definition() *schema.Table { return t.def }
func (t *Table) Dir() string               { return t.dir }

// RLock/RUnlock let a scan hold the table's shared lock for the whole
// scan so the parts it snapshots remain on disk.
func (t *Table) RLock()   { t.mu.RLock() }
func (t *Table) RUnlock() { t.mu.RUnlock() }

// Lock/Unlock are the exclusive counterpart, used by DROP TABLE (which
// therefore blocks until in-flight scans finish) and internally by
// RegisterPart/ReplaceParts.
func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// Parts returns a snapshot of the currently registered part ids, ordered
// by creation time. Callers must hold at least RLock.
func (t *Table) Parts() []string {
	out := make([]string, len(t.parts))
	copy(out, t.parts)
	return out
}

// PartPath returns the on-disk directory of a registered part.
func (t *Table) PartPath(partID string) string {
	return filepath.Join(t.dir, partID)
}

// RegisterPart adds a newly written part under the table's exclusive
// lock.
func (t *Table) RegisterPart(partID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertPartLocked(partID)
	t.metrics.partsRegistered.Inc()
}

func (t *Table) insertPartLocked(partID string) {
	i := sort.SearchStrings(t.parts, partID)
	t.parts = append(t.parts, "")
	copy(t.parts[i+1:], t.parts[i:])
	t.parts[i] = partID
}

// ReplaceParts atomically swaps oldIDs for newID under the table's
// exclusive lock, verifying every source part is still present. It
// returns *touchhouse.Error{Kind: NotFound} if any
// oldID is no longer registered, e.g. because a concurrent merge already
// consumed it.
func (t *Table) ReplaceParts(oldIDs []string, newID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, old := range oldIDs {
		if !t.containsLocked(old) {
			return touchhouse.NewError(touchhouse.KindNotFound, fmt.Sprintf("part %s no longer registered", old))
		}
	}

	remaining := t.parts[:0:0]
	oldSet := make(map[string]bool, len(oldIDs))
	for _, o := range oldIDs {
		oldSet[o] = true
	}
	for _, p := range t.parts {
		if !oldSet[p] {
			remaining = append(remaining, p)
		}
	}
	t.parts = remaining
	t.insertPartLocked(newID)
	t.metrics.mergesCompleted.Inc()
	return nil
}

func (t *Table) containsLocked(partID string) bool {
	i := sort.SearchStrings(t.parts, partID)
	return i < len(t.parts) && t.parts[i] == partID
}

// UnregisterPart removes a part id without requiring the caller already
// knows its neighbors. Recovery does not use it: it quarantines corrupt
// parts before registering any.
func (t *Table) UnregisterPart(partID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.parts {
		if p == partID {
			t.parts = append(t.parts[:i], t.parts[i+1:]...)
			return
		}
	}
}

// SetMergePressureHint stores a per-table load hint. The merger does not
// read it; its load gate uses merge.LoadSource.
func (t *Table) SetMergePressureHint(n int64) { t.mergePressureHint.Store(n) }
func (t *Table) MergePressureHint() int64     { return t.mergePressureHint.Load() }

func (t *Table) Metrics() *tableMetrics { return t.metrics }
