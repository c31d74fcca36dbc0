package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leonunix/floe/internal/backend"
)

var (
	// Bulk buffer metrics
	BulkFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floe_bulk_flushes_total",
			Help: "Total number of bulk flushes by result",
		},
		[]string{"result"},
	)

	BulkDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floe_bulk_documents_total",
			Help: "Documents submitted in bulk flushes by result",
		},
		[]string{"result"},
	)

	BufferDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floe_buffer_documents",
			Help: "Documents currently waiting in write buffers",
		},
	)

	// Scroll metrics
	ScrollPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floe_scroll_pages_total",
			Help: "Scroll pages received from the engine",
		},
	)

	ScrollDocumentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floe_scroll_documents_total",
			Help: "Documents received through scroll cursors",
		},
	)

	// Engine metrics
	EngineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "floe_engine_request_duration_seconds",
			Help:    "Engine round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)

	// Maintenance metrics
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floe_maintenance_runs_total",
			Help: "Maintenance job runs by job and status",
		},
		[]string{"job", "status"},
	)

	MaintenanceDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floe_maintenance_documents_total",
			Help: "Documents copied or indices pruned by maintenance jobs",
		},
		[]string{"job"},
	)
)

// ObserveEngine records one engine round-trip. It matches the
// backend.GuardConfig Observe signature.
func ObserveEngine(op string, elapsed time.Duration, err error) {
	EngineRequestDuration.WithLabelValues(op, outcome(err)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	var httpErr *backend.HTTPStatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &httpErr):
		return "rejected"
	case backend.IsBreakerOpen(err):
		return "breaker_open"
	default:
		return "unavailable"
	}
}

// RecordFlush records the outcome of a bulk flush of n documents.
func RecordFlush(n int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	BulkFlushesTotal.WithLabelValues(result).Inc()
	BulkDocumentsTotal.WithLabelValues(result).Add(float64(n))
}

// RecordScrollPage records one received scroll page.
func RecordScrollPage(n int) {
	ScrollPagesTotal.Inc()
	ScrollDocumentsTotal.Add(float64(n))
}
