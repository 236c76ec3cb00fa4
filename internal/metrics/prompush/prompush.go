// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A sync run is a batch job, so metrics are pushed to a Pushgateway at the
// end of the run rather than exposed on a scrape endpoint. All
// Prometheus-specific dependencies live here; the rest of the project
// depends only on metrics.Backend.
package prompush

import (
	"fmt"

	"gymsync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	tableCounter  *prometheus.CounterVec // "sync_table_total"
	tableDuration *prometheus.SummaryVec // "sync_table_duration_seconds"
	rowCounter    *prometheus.CounterVec // "sync_rows_total"
	runCounter    *prometheus.CounterVec // "sync_run_total"
	runDuration   *prometheus.SummaryVec // "sync_run_duration_seconds"
}

// NewBackend constructs a Prometheus Pushgateway backend. jobName becomes
// the Pushgateway "job" grouping key, so the job label is not repeated on
// the individual series.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "gymsync"
	}

	reg := prometheus.NewRegistry()

	tableCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_table_total",
			Help: "Table sync executions, partitioned by table and status.",
		},
		[]string{"table", "status"},
	)
	tableDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "sync_table_duration_seconds",
			Help:       "Duration of table syncs in seconds, partitioned by table and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"table", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_total",
			Help: "Row-level counts per table and kind (extracted, rejected, loaded).",
		},
		[]string{"table", "kind"},
	)
	runCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_run_total",
			Help: "Whole-run executions, partitioned by status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "sync_run_duration_seconds",
			Help: "Duration of whole sync runs in seconds, partitioned by status.",
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{tableCounter, tableDuration, rowCounter, runCounter, runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		tableCounter:  tableCounter,
		tableDuration: tableDuration,
		rowCounter:    rowCounter,
		runCounter:    runCounter,
		runDuration:   runDuration,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "sync_table_total":
		b.tableCounter.WithLabelValues(labels["table"], labels["status"]).Add(delta)
	case "sync_rows_total":
		b.rowCounter.WithLabelValues(labels["table"], labels["kind"]).Add(delta)
	case "sync_run_total":
		b.runCounter.WithLabelValues(labels["status"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case "sync_table_duration_seconds":
		b.tableDuration.WithLabelValues(labels["table"], labels["status"]).Observe(value)
	case "sync_run_duration_seconds":
		b.runDuration.WithLabelValues(labels["status"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
