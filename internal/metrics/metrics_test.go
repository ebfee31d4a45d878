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
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation("search", time.Now(), nil)
	m.ObserveOperation("search", time.Now(), nil)
	m.ObserveOperation("search", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("search", "error")))
}

func TestCacheAndTouchCounters(t *testing.T) {
	m := New()

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.TouchFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TouchFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("set", time.Now(), nil)
		m.ObserveSearchResults(3)
		m.CacheLookup(true)
		m.TouchFailed()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSearchResults(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hamem_search_results")
}
