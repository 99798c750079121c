package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/touchhouse/touchhouse/storage"
)

// recover rebuilds the in-memory catalog from disk: for each
// <db>/<table>/ directory, drop incomplete temp/part directories,
// validate every surviving part's column files, and quarantine
// whichever ones fail. An unreadable table is skipped with a warning
// rather than aborting the whole startup.
func (c *Catalog) recover() error {
	dbEntries, err := os.ReadDir(c.storageDir)
	if err != nil {
		return nil // fresh storage directory, nothing to recover
	}

	for _, dbEntry := range dbEntries {
		if !dbEntry.IsDir() {
			continue
		}
		dbName := dbEntry.Name()
		dbDir := filepath.Join(c.storageDir, dbName)
		db := newDatabase(dbName, dbDir, c.reg)

		tableEntries, err := os.ReadDir(dbDir)
		if err != nil {
			continue
		}
		for _, tableEntry := range tableEntries {
			if !tableEntry.IsDir() {
				continue
			}
			tableName := tableEntry.Name()
			tableDir := filepath.Join(dbDir, tableName)

			def, err := readSchema(tableDir, dbName, tableName)
			if err != nil {
				level.Warn(c.logger).Log("msg", "skipping table with unreadable schema.inf", "db", dbName, "table", tableName, "err", err)
				continue
			}

			t := newTable(def, tableDir, db.reg)
			parts, err := c.recoverTableParts(tableDir)
			if err != nil {
				level.Warn(c.logger).Log("msg", "error recovering table parts", "db", dbName, "table", tableName, "err", err)
			}
			for _, p := range parts {
				t.RegisterPart(p)
			}
			db.registerLoaded(tableName, t)
		}
		c.registerLoaded(dbName, db)
	}
	return nil
}

// recoverTableParts cleans up a single table directory and returns the
// surviving part ids sorted by creation order.
func (c *Catalog) recoverTableParts(tableDir string) ([]string, error) {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		return nil, err
	}

	type recovered struct {
		name     string
		manifest storage.Manifest
	}
	var survivors []recovered
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dir := filepath.Join(tableDir, name)

		if strings.HasPrefix(name, ".tmp-") {
			os.RemoveAll(dir)
			continue
		}
		if name == "corrupt" {
			continue
		}

		manifestPath := filepath.Join(dir, storage.ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			// Incomplete part: crashed before part.inf was written.
			os.RemoveAll(dir)
			continue
		}

		if ok := c.validatePartColumnFiles(dir); !ok {
			c.quarantine(tableDir, name)
			continue
		}

		man, err := storage.ReadManifest(dir)
		if err != nil {
			c.quarantine(tableDir, name)
			continue
		}
		survivors = append(survivors, recovered{name: name, manifest: man})
	}

	// A merge interrupted between writing its output and swapping the
	// part list leaves an orphan whose origin interval strictly contains
	// its still-present sources'. The sources carry the same data, so
	// the safe action is to discard the orphan.
	orphan := make([]bool, len(survivors))
	for i, a := range survivors {
		for j, b := range survivors {
			if i == j || orphan[j] {
				continue
			}
			wider := a.manifest.OriginLo() < b.manifest.OriginLo() && a.manifest.OriginHi() >= b.manifest.OriginHi() ||
				a.manifest.OriginLo() <= b.manifest.OriginLo() && a.manifest.OriginHi() > b.manifest.OriginHi()
			if wider {
				orphan[i] = true
				break
			}
		}
	}

	var names []string
	for i, s := range survivors {
		if orphan[i] {
			level.Warn(c.logger).Log("msg", "discarding orphan part from interrupted merge", "part", s.name)
			os.RemoveAll(filepath.Join(tableDir, s.name))
			continue
		}
		names = append(names, s.name)
	}

	sort.Strings(names)
	return names, nil
}

// validatePartColumnFiles opens every *.bin file in dir just far enough
// to validate its header's magic and version. It does not validate CRCs
// granule-by-granule; that cost is paid lazily by a scan that actually
// reads a granule.
func (c *Catalog) validatePartColumnFiles(dir string) bool {
	m, err := storage.ReadManifest(dir)
	if err != nil {
		return false
	}
	for _, col := range m.Columns {
		path := filepath.Join(dir, col+".bin")
		if err := storage.ValidateColumnFileHeader(path); err != nil {
			return false
		}
	}
	return true
}

func (c *Catalog) quarantine(tableDir, partName string) {
	corruptDir := filepath.Join(tableDir, "corrupt")
	os.MkdirAll(corruptDir, 0o750)
	src := filepath.Join(tableDir, partName)
	dst := filepath.Join(corruptDir, partName)
	if err := os.Rename(src, dst); err != nil {
		level.Error(c.logger).Log("msg", "failed to quarantine corrupt part", "part", partName, "err", err)
		return
	}
	level.Warn(c.logger).Log("msg", "quarantined corrupt part", "dir", dst)
}
