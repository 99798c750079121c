package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	atomicu "go.uber.org/atomic"

	"github.com/touchhouse/touchhouse/value"
)

// Manifest is the content of a part's part.inf. It is written in TOML,
// the same metadata-serialization choice this repo uses for schema.inf
// and its config files.
type Manifest struct {
	PartID        string            `toml:"part_id"`
	CreatedAt     time.Time         `toml:"created_at"`
	RowCount      uint64            `toml:"row_count"`
	Columns       []string          `toml:"columns"`
	EngineSummary map[string]string `toml:"engine_specific_summary"`

	// OriginMin/OriginMax delimit the contiguous interval of
	// writer-created part ids this part's rows descend from. A part
	// written by an INSERT carries its own id for both; a merged part
	// takes the union of its sources. ReplacingMergeTree resolves
	// primary-key conflicts by OriginMax rather than by the merged
	// part's own (always fresher) id, and the merger only pairs parts
	// whose intervals are adjacent, so the intervals stay disjoint and
	// contiguous.
	OriginMin string `toml:"origin_min"`
	OriginMax string `toml:"origin_max"`
}

// OriginLo returns the lower bound of the part's origin interval,
// falling back to the part's own id for manifests written before the
// origin fields existed.
func (m Manifest) OriginLo() string {
	if m.OriginMin == "" {
		return m.PartID
	}
	return m.OriginMin
}

// OriginHi is the upper-bound counterpart of OriginLo.
func (m Manifest) OriginHi() string {
	if m.OriginMax == "" {
		return m.PartID
	}
	return m.OriginMax
}

const ManifestFileName = "part.inf"

// NewPartID generates a time-ordered UUID (v7) so part directory names
// sort lexicographically in creation order.
func NewPartID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the process clock/random source is
		// broken beyond repair; there is no sane fallback.
		panic(fmt.Sprintf("storage: failed to generate part id: %v", err))
	}
	return id.String()
}

// ColumnData is one column's granules staged for a new part, produced by
// the Writer or the Merger.
type ColumnData struct {
	Name     string
	Type     value.Type
	Nullable bool
	Writer   *ColumnFileWriter
}

// WritePart publishes a part atomically: write to a temp directory,
// fsync every file, fsync the directory, then rename. part.inf is
// written last so a crash leaves a directory recognizable as
// incomplete. originMin/originMax delimit the part's origin interval;
// the Writer passes partID for both, the Merger the union of its
// sources.
func WritePart(tableDir, partID string, rowCount uint64, engine, originMin, originMax string, columns []ColumnData) (string, error) {
	tmpDir := filepath.Join(tableDir, ".tmp-"+partID)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return "", ioErr("mkdir temp part dir", err)
	}

	colNames := make([]string, 0, len(columns))
	for _, c := range columns {
		colNames = append(colNames, c.Name)
		path := filepath.Join(tmpDir, c.Name+".bin")
		if err := c.Writer.WriteFile(path); err != nil {
			os.RemoveAll(tmpDir)
			return "", err
		}
	}

	manifest := Manifest{
		PartID:        partID,
		CreatedAt:     time.Now().UTC(),
		RowCount:      rowCount,
		Columns:       colNames,
		EngineSummary: map[string]string{"engine": engine},
		OriginMin:     originMin,
		OriginMax:     originMax,
	}
	manifestPath := filepath.Join(tmpDir, ManifestFileName)
	mf, err := os.OpenFile(manifestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		os.RemoveAll(tmpDir)
		return "", ioErr("create part.inf", err)
	}
	if err := toml.NewEncoder(mf).Encode(manifest); err != nil {
		mf.Close()
		os.RemoveAll(tmpDir)
		return "", ioErr("encode part.inf", err)
	}
	if err := mf.Sync(); err != nil {
		mf.Close()
		os.RemoveAll(tmpDir)
		return "", ioErr("fsync part.inf", err)
	}
	mf.Close()

	dir, err := os.Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return "", ioErr("open temp part dir", err)
	}
	syncErr := dir.Sync()
	dir.Close()
	if syncErr != nil {
		os.RemoveAll(tmpDir)
		return "", ioErr("fsync temp part dir", syncErr)
	}

	finalDir := filepath.Join(tableDir, partID)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", ioErr("rename part dir", err)
	}
	if parent, err := os.Open(tableDir); err == nil {
		parent.Sync()
		parent.Close()
	}
	return finalDir, nil
}

// ReadManifest reads and parses a part's part.inf.
func ReadManifest(partDir string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(partDir, ManifestFileName), &m); err != nil {
		return m, ioErr("read part.inf", err)
	}
	return m, nil
}

// Part is an open, reference-counted handle to a part directory's column
// files. Scans acquire it for the duration of their read; the Merger
// requests deletion once its replacement part is durable, but the
// directory is only unlinked once the last scanner releases its handle.
type Part struct {
	Dir      string
	Manifest Manifest

	mu          sync.Mutex
	columnFiles map[string]*ColumnFile
	refs        *atomicu.Int64
	delete      *atomicu.Bool
}

// OpenPart reads a part's manifest. Column files are opened lazily via
// Open, one per column actually projected/filtered/ordered by a scan, so
// scans that only need a few columns never map the rest.
func OpenPart(dir string) (*Part, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	return &Part{
		Dir:         dir,
		Manifest:    m,
		columnFiles: make(map[string]*ColumnFile),
		refs:        atomicu.NewInt64(0),
		delete:      atomicu.NewBool(false),
	}, nil
}

// Open opens (if not already open in this handle) and returns the
// column file for name.
func (p *Part) Open(name string, typ value.Type) (*ColumnFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cf, ok := p.columnFiles[name]; ok {
		return cf, nil
	}
	path := filepath.Join(p.Dir, name+".bin")
	cf, err := OpenColumnFile(path, typ)
	if err != nil {
		return nil, err
	}
	p.columnFiles[name] = cf
	return cf, nil
}

// Acquire increments the reference count held by a scan or the merger's
// read phase.
func (p *Part) Acquire() { p.refs.Inc() }

// Refs reports the current outstanding reference count, used by a part
// handle cache (catalog.Table) to decide whether a handle can be evicted.
func (p *Part) Refs() int64 { return p.refs.Load() }

// Deleted reports whether RequestDelete has been called on this handle.
func (p *Part) Deleted() bool { return p.delete.Load() }

// Release decrements the reference count. If deletion has been
// requested and this was the last reference, the part directory is
// unlinked.
func (p *Part) Release() error {
	remaining := p.refs.Dec()
	if remaining <= 0 && p.delete.Load() {
		return p.closeAndRemove()
	}
	return nil
}

// RequestDelete marks the part for removal once all outstanding
// references drop, so a live scanner's mmap is never unlinked
// underneath it.
func (p *Part) RequestDelete() error {
	p.delete.Store(true)
	if p.refs.Load() <= 0 {
		return p.closeAndRemove()
	}
	return nil
}

func (p *Part) closeAndRemove() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cf := range p.columnFiles {
		cf.Close()
	}
	return os.RemoveAll(p.Dir)
}
