package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registerer aliases prometheus.Registerer; the catalog scopes it with
// prometheus.WrapRegistererWith per database and per table.
type Registerer = prometheus.Registerer

type tableMetrics struct {
	partsRegistered prometheus.Counter
	mergesCompleted prometheus.Counter
}

// newTableMetrics scopes reg with the table name only; the enclosing
// Database already wrapped it with the database label.
func newTableMetrics(reg Registerer, table string) *tableMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"table": table}, reg)
	return &tableMetrics{
		partsRegistered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "touchhouse_parts_registered_total",
			Help: "Number of parts registered for this table.",
		}),
		mergesCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "touchhouse_merges_completed_total",
			Help: "Number of merges completed for this table.",
		}),
	}
}
