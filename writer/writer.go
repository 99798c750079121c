// Package writer implements the INSERT path: it turns a batch of rows
// into a new, immutable part and registers it with the catalog. INSERT
// never mutates existing parts; concurrent inserts to the same table
// each produce an independent part.
package writer

import (
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/codec"
	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/storage"
	"github.com/touchhouse/touchhouse/value"
)

// Writer builds new parts for INSERT statements. It is stateless beyond
// its logger/metrics and safe for concurrent use across tables and
// concurrent inserts into the same table.
type Writer struct {
	logger  log.Logger
	codec   codec.Codec
	metrics *metrics
}

type metrics struct {
	rowsInserted  prometheus.Counter
	insertsFailed prometheus.Counter
}

func New(logger log.Logger, reg prometheus.Registerer) *Writer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c, err := codec.ByID(codec.Snappy)
	if err != nil {
		panic(err) // snappy is always registered by package codec's init
	}
	return &Writer{
		logger: logger,
		codec:  c,
		metrics: &metrics{
			rowsInserted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_rows_inserted_total",
				Help: "Number of rows successfully inserted.",
			}),
			insertsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "touchhouse_inserts_failed_total",
				Help: "Number of INSERTs that failed validation or I/O.",
			}),
		},
	}
}

// Insert validates rows, sorts them by the table's order_by, writes a
// new part and registers it. columns names the positional columns of
// rows; any table column absent from columns takes its default value,
// or Null if nullable and no default was declared.
func (w *Writer) Insert(table *catalog.Table, columns []string, rows [][]value.Value) (uint64, error) {
	def := table.Definition()

	fullRows, err := w.materializeRows(def, columns, rows)
	if err != nil {
		w.metrics.insertsFailed.Inc()
		return 0, err
	}
	if len(fullRows) == 0 {
		return 0, nil
	}

	sortRows(def, fullRows)

	partID := storage.NewPartID()
	colData := make([]storage.ColumnData, len(def.Columns))
	for ci, col := range def.Columns {
		cfw := storage.NewColumnFileWriter(col.Type, col.Nullable, w.codec)
		cfw.SetGranuleSize(schema.GranuleSize)
		for start := 0; start < len(fullRows); start += schema.GranuleSize {
			end := start + schema.GranuleSize
			if end > len(fullRows) {
				end = len(fullRows)
			}
			vals := make([]value.Value, end-start)
			for i := start; i < end; i++ {
				vals[i-start] = fullRows[i][ci]
			}
			cfw.AddGranule(vals)
		}
		colData[ci] = storage.ColumnData{Name: col.Name, Type: col.Type, Nullable: col.Nullable, Writer: cfw}
	}

	dir, err := storage.WritePart(table.Dir(), partID, uint64(len(fullRows)), def.Engine.String(), partID, partID, colData)
	if err != nil {
		w.metrics.insertsFailed.Inc()
		level.Error(w.logger).Log("msg", "failed to write part", "table", def.Name, "err", err)
		return 0, err
	}

	table.RegisterPart(partID)
	w.metrics.rowsInserted.Add(float64(len(fullRows)))
	level.Debug(w.logger).Log("msg", "registered new part", "table", def.Name, "part", partID, "dir", dir, "rows", len(fullRows))
	return uint64(len(fullRows)), nil
}

// materializeRows expands each input row to the table's full column
// list in schema order, filling in default/Null values and rejecting
// unknown columns or type mismatches.
func (w *Writer) materializeRows(def *schema.Table, columns []string, rows [][]value.Value) ([][]value.Value, error) {
	colPos := make(map[string]int, len(columns))
	for i, name := range columns {
		if def.ColumnIndex(name) < 0 {
			return nil, touchhouse.NewError(touchhouse.KindSchemaViolation, "unknown column "+name)
		}
		colPos[name] = i
	}

	out := make([][]value.Value, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, touchhouse.NewError(touchhouse.KindSchemaViolation, "row has wrong number of values")
		}
		full := make([]value.Value, len(def.Columns))
		for ci, col := range def.Columns {
			pos, given := colPos[col.Name]
			switch {
			case given:
				v := row[pos]
				if err := checkType(col, v); err != nil {
					return nil, err
				}
				full[ci] = v
			case col.DefaultValue != nil:
				full[ci] = *col.DefaultValue
			case col.Nullable:
				full[ci] = value.NullValue(col.Type)
			default:
				return nil, touchhouse.NewError(touchhouse.KindSchemaViolation, "missing required column "+col.Name)
			}
		}
		out[r] = full
	}
	return out, nil
}

func checkType(col schema.Column, v value.Value) error {
	if v.Null {
		if !col.Nullable {
			return touchhouse.NewError(touchhouse.KindSchemaViolation, "column "+col.Name+" is not nullable")
		}
		return nil
	}
	if v.Typ != col.Type {
		return touchhouse.NewError(touchhouse.KindSchemaViolation, "type mismatch for column "+col.Name)
	}
	return nil
}

// sortRows stably sorts fullRows by the table's order_by columns,
// using value.CompareForSort so Nulls retain a total order.
func sortRows(def *schema.Table, rows [][]value.Value) {
	idxs := make([]int, len(def.OrderBy))
	for i, name := range def.OrderBy {
		idxs[i] = def.ColumnIndex(name)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ci := range idxs {
			c := value.CompareForSort(rows[i][ci], rows[j][ci])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}
