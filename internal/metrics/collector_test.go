package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordHTTPRequest(t *testing.T) {
	c := NewCollector("rbx", zap.NewNop())

	c.RecordHTTPRequest("POST", "/api/render", 200, 120*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/render", 201, 80*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/render", 429, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/render", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/render", "4xx")))
}

func TestObserveFetch(t *testing.T) {
	c := NewCollector("rbx", nil)
	c.ObserveFetch("t3.rbxcdn.com", "rate_limited")
	c.ObserveFetch("t3.rbxcdn.com", "rate_limited")
	c.ObserveFetch("t3.rbxcdn.com", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("t3.rbxcdn.com", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("t3.rbxcdn.com", "ok")))
}

func TestRecordRenderAndAdmission(t *testing.T) {
	c := NewCollector("rbx", nil)
	c.RecordRender("webp", nil, time.Second)
	c.RecordRender("webp", errors.New("boom"), time.Second)
	c.RecordAdmission("outfit-download", true)
	c.RecordAdmission("outfit-download", false)
	c.RecordCacheHit("outfits")
	c.RecordCacheMiss("outfits")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.renders.WithLabelValues("webp", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admissions.WithLabelValues("outfit-download", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("outfits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("outfits")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("rbx", nil)
	b := NewCollector("rbx", nil)
	a.RecordCacheHit("outfits")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheHits.WithLabelValues("outfits")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("rbx", nil)
	c.RecordAdmission("render", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rbx_admissions_total{decision="admitted",endpoint="render"} 1`)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(405))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(0))
}
