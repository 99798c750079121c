// Package exec implements the engine's execution entry point: it
// dispatches a ready physical plan node to the right subsystem (scan,
// insert, create/drop). There is no merge plan node; merges run through
// package merge.
package exec

import (
	"context"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/scan"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/writer"
)

// Executor is the core's single entry point: Execute consumes one
// plan.Node at a time. It holds no plan-building logic of its own; SQL
// parsing, logical planning and optimization happen upstream.
type Executor struct {
	cat     *catalog.Catalog
	writer  *writer.Writer
	scanner *scan.Scanner
}

func New(cat *catalog.Catalog, w *writer.Writer, s *scan.Scanner) *Executor {
	return &Executor{cat: cat, writer: w, scanner: s}
}

var emptyResult = &plan.OutputTable{}

// Execute dispatches node to the matching subsystem.
func (e *Executor) Execute(ctx context.Context, node plan.Node) (*plan.OutputTable, error) {
	switch n := node.(type) {
	case plan.CreateDatabase:
		_, err := e.cat.CreateDatabase(n.Name, n.IfNotExists)
		return emptyResult, err
	case plan.DropDatabase:
		return emptyResult, e.cat.DropDatabase(n.Name, n.IfExists)
	case plan.CreateTable:
		return emptyResult, e.createTable(n)
	case plan.DropTable:
		db, ok := e.cat.Database(n.Database)
		if !ok {
			if n.IfExists {
				return emptyResult, nil
			}
			return nil, touchhouse.NewError(touchhouse.KindNotFound, "database "+n.Database+" does not exist")
		}
		return emptyResult, db.DropTable(n.Name, n.IfExists)
	case plan.Insert:
		table, err := e.lookupTable(n.Database, n.Table)
		if err != nil {
			return nil, err
		}
		_, err = e.writer.Insert(table, n.Columns, n.Rows)
		return emptyResult, err
	case plan.Scan:
		table, err := e.lookupTable(n.Database, n.Table)
		if err != nil {
			return nil, err
		}
		return e.scanner.Scan(ctx, table, n)
	default:
		return nil, touchhouse.NewError(touchhouse.KindUnsupported, "unknown plan node")
	}
}

func (e *Executor) lookupTable(database, name string) (*catalog.Table, error) {
	db, ok := e.cat.Database(database)
	if !ok {
		return nil, touchhouse.NewError(touchhouse.KindNotFound, "database "+database+" does not exist")
	}
	table, ok := db.Table(name)
	if !ok {
		return nil, touchhouse.NewError(touchhouse.KindNotFound, "table "+name+" does not exist")
	}
	return table, nil
}

// createTable converts the plan-level table definition into the
// catalog's schema.Table, keeping plan free of a dependency on the
// storage engine's internal schema representation.
func (e *Executor) createTable(n plan.CreateTable) error {
	db, ok := e.cat.Database(n.Def.Database)
	if !ok {
		return touchhouse.NewError(touchhouse.KindNotFound, "database "+n.Def.Database+" does not exist")
	}

	engine, ok := schema.ParseEngine(n.Def.Engine)
	if !ok {
		return touchhouse.NewError(touchhouse.KindUnsupported, "unknown engine "+n.Def.Engine)
	}

	columns := make([]schema.Column, len(n.Def.Columns))
	for i, c := range n.Def.Columns {
		columns[i] = schema.Column{
			Name:         c.Name,
			Type:         c.Type,
			Nullable:     c.Nullable,
			DefaultValue: c.DefaultValue,
		}
	}

	def := &schema.Table{
		Database:   n.Def.Database,
		Name:       n.Def.Name,
		Columns:    columns,
		Engine:     engine,
		PrimaryKey: n.Def.PrimaryKey,
		OrderBy:    n.Def.OrderBy,
	}

	_, err := db.CreateTable(def, n.IfNotExists)
	return err
}
