// Package telemetry exposes Prometheus metrics for indexing and the admin
// HTTP server.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fhirindex"

// Write operations recorded on lookup tables.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// ---------------------------------------------------------------------------
// IndexMetrics
// ---------------------------------------------------------------------------

// IndexMetrics records lookup-table activity. A nil *IndexMetrics is valid
// and records nothing.
type IndexMetrics struct {
	registry     *prometheus.Registry
	rows         *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	classified   *prometheus.CounterVec
	reindexed    *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewIndexMetrics registers the indexer metrics on registry. A nil registry
// gets a fresh one.
func NewIndexMetrics(registry *prometheus.Registry) *IndexMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)
	return &IndexMetrics{
		registry: registry,
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "rows_total",
			Help:      "Lookup table rows written, by table and operation.",
		}, []string{"table", "operation"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "unchanged_total",
			Help:      "Index calls that found the persisted rows unchanged and wrote nothing.",
		}, []string{"table"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "duration_seconds",
			Help:      "Duration of index operations in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "errors_total",
			Help:      "Failed index operations.",
		}, []string{"operation"}),
		classified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "classifications_total",
			Help:      "Search parameters classified, by strategy.",
		}, []string{"strategy"}),
		reindexed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "resources_total",
			Help:      "Resources re-indexed by resource type.",
		}, []string{"resource_type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *IndexMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RowsWritten counts n rows inserted or deleted on table.
func (m *IndexMetrics) RowsWritten(table, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rows.WithLabelValues(table, op).Add(float64(n))
}

// Unchanged counts an index call that wrote nothing.
func (m *IndexMetrics) Unchanged(table string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(table).Inc()
}

// Observe records the duration of operation and whether it failed.
func (m *IndexMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// Classified counts a search parameter classification.
func (m *IndexMetrics) Classified(strategy string) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(strategy).Inc()
}

// Reindexed counts n resources re-indexed for resourceType.
func (m *IndexMetrics) Reindexed(resourceType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reindexed.WithLabelValues(resourceType).Add(float64(n))
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records request counts
// and durations.
func (m *IndexMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *IndexMetrics) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
}
