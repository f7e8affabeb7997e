// Package metrics defines the Prometheus collectors used by the engine and
// its tools, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	DocsIndexedTotal    prometheus.Counter
	CommitsTotal        prometheus.Counter
	CommitDuration      prometheus.Histogram
	QueriesTotal        *prometheus.CounterVec
	QueryLatency        prometheus.Histogram
	CompactionsTotal    prometheus.Counter
	ReplicationCycles   *prometheus.CounterVec
	ReplicationLagBytes prometheus.Gauge
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lodestone_docs_indexed_total",
			Help: "Total documents added or replaced.",
		}),
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lodestone_commits_total",
			Help: "Total database commits.",
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lodestone_commit_duration_seconds",
			Help:    "Commit latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_queries_total",
			Help: "Total queries by result type (hit, zero_result, error).",
		}, []string{"result_type"}),
		QueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lodestone_query_duration_seconds",
			Help:    "Query latency in seconds.",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lodestone_compactions_total",
			Help: "Total compaction runs.",
		}),
		ReplicationCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lodestone_replication_cycles_total",
			Help: "Replication polling cycles by outcome (updated, unchanged, error).",
		}, []string{"outcome"}),
		ReplicationLagBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lodestone_replication_lag_bytes",
			Help: "Bytes transferred in the last replication cycle.",
		}),
	}
	prometheus.MustRegister(
		m.DocsIndexedTotal,
		m.CommitsTotal,
		m.CommitDuration,
		m.QueriesTotal,
		m.QueryLatency,
		m.CompactionsTotal,
		m.ReplicationCycles,
		m.ReplicationLagBytes,
	)
	return m
}

// Handler returns the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
