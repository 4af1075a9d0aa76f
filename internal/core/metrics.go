package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors for bulk mutations and imports.
// A nil *Metrics records nothing.
type Metrics struct {
	bulk    *prometheus.CounterVec
	imports *prometheus.CounterVec
	rows    *prometheus.CounterVec
	active  prometheus.Gauge
}

// NewMetrics creates the service collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bulk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "bulk",
			Name:      "records_total",
			Help:      "Records processed by bulk mutations by op, entity and status.",
		}, []string{"op", "entity", "status"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import runs by entity and final phase.",
		}, []string{"entity", "phase"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Imported rows by entity and status.",
		}, []string{"entity", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog",
			Subsystem: "import",
			Name:      "active_runs",
			Help:      "Import runs currently holding a limiter slot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.bulk, m.imports, m.rows, m.active)
	}
	return m
}

func (m *Metrics) bulkResults(op, entity string, results []Result) {
	if m == nil {
		return
	}
	for _, r := range results {
		status := "success"
		if r.Err != nil {
			status = "failed"
		}
		m.bulk.WithLabelValues(op, entity, status).Inc()
	}
}

func (m *Metrics) importRun(report *ImportReport) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(report.Entity, string(report.Phase)).Inc()
	m.rows.WithLabelValues(report.Entity, string(RowSuccess)).Add(float64(report.SuccessCount))
	m.rows.WithLabelValues(report.Entity, string(RowFailed)).Add(float64(report.FailedCount))
}

func (m *Metrics) importStarted() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) importFinished() {
	if m != nil {
		m.active.Dec()
	}
}
