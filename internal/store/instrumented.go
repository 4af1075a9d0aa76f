package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors recorded for primitive operations.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
}

// NewMetrics creates the store collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Primitive store operations by op, table and outcome.",
		}, []string{"op", "table", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of primitive store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "table"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "store",
			Name:      "rows_total",
			Help:      "Rows returned or affected by primitive store operations.",
		}, []string{"op", "table"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.duration, m.rows)
	}
	return m
}

// Instrument wraps s so every primitive call is counted and timed.
func Instrument(s Store, m *Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, m: m}
}

type instrumented struct {
	next Store
	m    *Metrics
}

func (i *instrumented) observe(op, table string, start time.Time, rows int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.m.calls.WithLabelValues(op, table, outcome).Inc()
	i.m.duration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	if rows > 0 {
		i.m.rows.WithLabelValues(op, table).Add(float64(rows))
	}
}

func (i *instrumented) Select(ctx context.Context, req SelectRequest) (SelectResult, error) {
	start := time.Now()
	res, err := i.next.Select(ctx, req)
	i.observe("select", req.Table.Name, start, len(res.Rows), err)
	return res, err
}

func (i *instrumented) Insert(ctx context.Context, table Table, records []Record) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Insert(ctx, table, records)
	i.observe("insert", table.Name, start, len(out), err)
	return out, err
}

func (i *instrumented) Update(ctx context.Context, table Table, values Record, match []Predicate) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Update(ctx, table, values, match)
	i.observe("update", table.Name, start, len(out), err)
	return out, err
}

func (i *instrumented) Delete(ctx context.Context, table Table, match []Predicate) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Delete(ctx, table, match)
	i.observe("delete", table.Name, start, len(out), err)
	return out, err
}
