package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestIndexMetrics_RowsWritten(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewIndexMetrics(registry)

	m.RowsWritten("Patient_Token", OpInsert, 3)
	m.RowsWritten("Patient_Token", OpInsert, 2)
	m.RowsWritten("Patient_Token", OpDelete, 0)

	mf := findMetric(t, registry, "fhirindex_lookup_rows_total")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, 5.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestIndexMetrics_ObserveCountsErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewIndexMetrics(registry)

	m.Observe("index", time.Now(), nil)
	m.Observe("index", time.Now(), errors.New("boom"))

	mf := findMetric(t, registry, "fhirindex_index_duration_seconds")
	require.NotNil(t, mf)
	assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())

	mf = findMetric(t, registry, "fhirindex_index_errors_total")
	require.NotNil(t, mf)
	assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestIndexMetrics_NilIsNoop(t *testing.T) {
	var m *IndexMetrics
	m.RowsWritten("HumanName", OpInsert, 1)
	m.Unchanged("HumanName")
	m.Observe("index", time.Now(), errors.New("x"))
	m.Classified("token")
	m.Reindexed("Patient", 1)
	assert.Nil(t, m.Registry())
}

func TestMetricsMiddlewareAndHandler(t *testing.T) {
	m := NewIndexMetrics(nil)
	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", m.PrometheusHandler())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `fhirindex_http_requests_total{method="GET",route="/health",status="200"} 1`), body)
}
