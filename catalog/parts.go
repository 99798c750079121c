package catalog

import (
	"sync"

	"github.com/touchhouse/touchhouse/storage"
)

// partHandles is a table-scoped cache of open *storage.Part handles:
// column-file mmaps are shared among scans via reference-counted
// handles, and a file is unmapped only when the last scan releases it
// and the merger has requested deletion. Without a shared handle per
// part_id, scans and the merger would each mmap the same files
// independently and RequestDelete from one would never observe the
// other's references.
type partHandles struct {
	mu      sync.Mutex
	handles map[string]*storage.Part
}

func newPartHandles() *partHandles {
	return &partHandles{handles: make(map[string]*storage.Part)}
}

// AcquirePart returns a reference-counted handle to partID, opening it
// if this is the first acquisition since the part was registered (or
// since its last handle was evicted after deletion). Callers must call
// ReleasePart exactly once per successful AcquirePart.
func (t *Table) AcquirePart(partID string) (*storage.Part, error) {
	t.handleCache.mu.Lock()
	defer t.handleCache.mu.Unlock()

	if h, ok := t.handleCache.handles[partID]; ok {
		h.Acquire()
		return h, nil
	}
	h, err := storage.OpenPart(t.PartPath(partID))
	if err != nil {
		return nil, err
	}
	h.Acquire()
	t.handleCache.handles[partID] = h
	return h, nil
}

// ReleasePart releases one reference acquired via AcquirePart. If the
// handle has been marked for deletion (RequestDeletePart) and this was
// the last outstanding reference, the part directory is unlinked and the
// handle evicted from the cache.
func (t *Table) ReleasePart(partID string, h *storage.Part) error {
	err := h.Release()
	if h.Refs() <= 0 && h.Deleted() {
		t.handleCache.mu.Lock()
		if cur, ok := t.handleCache.handles[partID]; ok && cur == h {
			delete(t.handleCache.handles, partID)
		}
		t.handleCache.mu.Unlock()
	}
	return err
}

// RequestDeletePart marks partID for removal once all outstanding
// AcquirePart references drop. It is safe to call
// even if nothing currently holds a handle, in which case the part is
// unlinked immediately.
func (t *Table) RequestDeletePart(partID string) error {
	t.handleCache.mu.Lock()
	h, ok := t.handleCache.handles[partID]
	if !ok {
		var err error
		h, err = storage.OpenPart(t.PartPath(partID))
		if err != nil {
			t.handleCache.mu.Unlock()
			return err
		}
		t.handleCache.handles[partID] = h
	}
	t.handleCache.mu.Unlock()

	err := h.RequestDelete()
	if h.Refs() <= 0 {
		t.handleCache.mu.Lock()
		if cur, ok := t.handleCache.handles[partID]; ok && cur == h {
			delete(t.handleCache.handles, partID)
		}
		t.handleCache.mu.Unlock()
	}
	return err
}
