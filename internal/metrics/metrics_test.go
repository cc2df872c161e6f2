package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveHTTP("GET", "/v1/conversations", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "/v1/conversations", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "", 404, time.Millisecond)
	m.PathTruncated("cycle")
	m.RateLimited()
	m.EventPublishFailed()
	m.ObserveInference("claude-v2", nil, time.Second)
	m.ObserveInference("claude-v2", context.Canceled, time.Second)
	m.ObserveInference("claude-v2", errors.New("boom"), time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/conversations", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pathTruncations.WithLabelValues("cycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventFailures))
	assert.Equal(t, 3, testutil.CollectAndCount(m.inferenceDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PathTruncated("dangling_parent")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `branchchat_path_truncations_total{reason="dangling_parent"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("GET", "/", 200, 0)
	m.ObserveInference("x", nil, 0)
	m.PathTruncated("cycle")
	m.RateLimited()
	m.EventPublishFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
