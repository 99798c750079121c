// Package catalog implements the process-wide mapping of
// database -> table -> table state, its locking discipline, its on-disk
// persistence and startup recovery.
//
// A catalog-level RWMutex guards the map of databases and each database
// guards its own map of tables, so the common lookup case never takes a
// write lock.
package catalog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/touchhouse/touchhouse"
)

// Catalog is initialized once at startup and shared process-wide.
// Tests instantiate a private Catalog per temp directory instead of
// sharing a global.
type Catalog struct {
	storageDir string
	logger     log.Logger
	reg        Registerer

	mu  sync.RWMutex
	dbs map[string]*Database
}

// Open constructs a Catalog rooted at storageDir and runs startup
// recovery over any existing on-disk state.
func Open(storageDir string, logger log.Logger, reg prometheus.Registerer) (*Catalog, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err := os.MkdirAll(storageDir, 0o750); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindIoError, "create storage directory", err)
	}

	c := &Catalog{
		storageDir: storageDir,
		logger:     logger,
		reg:        reg,
		dbs:        map[string]*Database{},
	}
	if err := c.recover(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) StorageDir() string { return c.storageDir }

// Database looks up a database by name.
func (c *Catalog) Database(name string) (*Database, bool) {
	c.mu.RLock()
	db, ok := c.dbs[name]
	c.mu.RUnlock()
	return db, ok
}

// CreateDatabase creates a new database directory.
func (c *Catalog) CreateDatabase(name string, ifNotExists bool) (*Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.dbs[name]; ok {
		if ifNotExists {
			return existing, nil
		}
		return nil, touchhouse.NewError(touchhouse.KindAlreadyExists, "database "+name+" already exists")
	}

	dir := filepath.Join(c.storageDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindIoError, "create database directory", err)
	}

	db := newDatabase(name, dir, c.reg)
	c.dbs[name] = db
	return db, nil
}

// DropDatabase removes a database directory; it fails with
// *touchhouse.Error{Kind: NotEmpty} if any table remains.
func (c *Catalog) DropDatabase(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.dbs[name]
	if !ok {
		if ifExists {
			return nil
		}
		return touchhouse.NewError(touchhouse.KindNotFound, "database "+name+" does not exist")
	}
	if len(db.Tables()) > 0 {
		return touchhouse.NewError(touchhouse.KindNotEmpty, "database "+name+" still has tables")
	}

	delete(c.dbs, name)
	if err := os.RemoveAll(db.Dir()); err != nil {
		return touchhouse.WrapError(touchhouse.KindIoError, "remove database directory", err)
	}
	return nil
}

// Databases returns a snapshot of all databases.
func (c *Catalog) Databases() []*Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Database, 0, len(c.dbs))
	for _, db := range c.dbs {
		out = append(out, db)
	}
	return out
}

func (c *Catalog) registerLoaded(name string, db *Database) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dbs[name] = db
}
