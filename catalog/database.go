package catalog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/schema"
)

// Database is a container for tables; dropping one requires that no
// tables remain.
type Database struct {
	name string
	dir  string
	reg  Registerer

	mu     sync.RWMutex
	tables map[string]*Table
}

func newDatabase(name, dir string, reg Registerer) *Database {
	return &Database{
		name:   name,
		dir:    dir,
		reg:    prometheus.WrapRegistererWith(prometheus.Labels{"database": name}, reg),
		tables: map[string]*Table{},
	}
}

func (d *Database) Name() string { return d.name }
func (d *Database) Dir() string  { return d.dir }

// Table looks up a table by name under a cheap RLock; only the (rare)
// creation path takes the write lock.
func (d *Database) Table(name string) (*Table, bool) {
	d.mu.RLock()
	t, ok := d.tables[name]
	d.mu.RUnlock()
	return t, ok
}

// CreateTable validates def and creates the table directory
// and its schema.inf. It returns *touchhouse.Error{Kind: AlreadyExists}
// unless ifNotExists.
func (d *Database) CreateTable(def *schema.Table, ifNotExists bool) (*Table, error) {
	if err := def.Validate(); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindSchemaViolation, "invalid table definition", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.tables[def.Name]; ok {
		if ifNotExists {
			return existing, nil
		}
		return nil, touchhouse.NewError(touchhouse.KindAlreadyExists, "table "+def.Name+" already exists")
	}

	tableDir := filepath.Join(d.dir, def.Name)
	if err := os.MkdirAll(tableDir, 0o750); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindIoError, "create table directory", err)
	}
	if err := writeSchema(tableDir, def); err != nil {
		return nil, err
	}

	t := newTable(def, tableDir, d.reg)
	d.tables[def.Name] = t
	return t, nil
}

// DropTable takes the table's exclusive lock then removes its
// directory, so a DROP blocks until in-flight scans finish rather than
// failing them.
func (d *Database) DropTable(name string, ifExists bool) error {
	d.mu.Lock()
	t, ok := d.tables[name]
	if !ok {
		d.mu.Unlock()
		if ifExists {
			return nil
		}
		return touchhouse.NewError(touchhouse.KindNotFound, "table "+name+" does not exist")
	}
	delete(d.tables, name)
	d.mu.Unlock()

	t.Lock()
	defer t.Unlock()
	if err := os.RemoveAll(t.Dir()); err != nil {
		return touchhouse.WrapError(touchhouse.KindIoError, "remove table directory", err)
	}
	return nil
}

// Tables returns a snapshot of all tables, used by DropDatabase's
// NotEmpty check and by the merger's tick.
func (d *Database) Tables() []*Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	return out
}

func (d *Database) registerLoaded(name string, t *Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = t
}
