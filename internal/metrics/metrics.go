// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from sync runs.
//
// The shape mirrors the storage abstraction: a narrow Backend interface, a
// global pluggable backend defaulting to a no-op, and concrete metric
// systems isolated in subpackages. Metrics are always safe to call even
// when no real backend is configured.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordTable records the outcome and duration of one table's sync.
// Status values mirror the run report: completed, failed, skipped.
func RecordTable(job, table, status string, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"table":  table,
		"status": status,
	}
	backend.IncCounter("sync_table_total", 1, lbls)
	backend.ObserveHistogram("sync_table_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given table and kind.
//
// Typical kinds mirror the per-table outcome fields:
//   - "extracted"
//   - "rejected"
//   - "loaded"
func RecordRows(job, table, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("sync_rows_total", float64(delta), Labels{
		"job":   job,
		"table": table,
		"kind":  kind,
	})
}

// RecordRun records the outcome and duration of a whole sync run.
func RecordRun(job, status string, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"status": status,
	}
	backend.IncCounter("sync_run_total", 1, lbls)
	backend.ObserveHistogram("sync_run_duration_seconds", d.Seconds(), lbls)
}
