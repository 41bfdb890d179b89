package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberlens/cyber-lens/internal/engine"
)

func TestObserveProvider(t *testing.T) {
	m := New()
	m.ObserveProvider(engine.Result{Provider: "otx", Status: engine.StatusSuccess, LatencyMs: 120})
	m.ObserveProvider(engine.Result{Provider: "otx", Status: engine.StatusTimeout, LatencyMs: 8000})
	m.ObserveProvider(engine.Result{Provider: "otx", Status: engine.StatusSuccess, LatencyMs: 80})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("otx", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("otx", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProviderLatency))
}

func TestObserveLookup(t *testing.T) {
	m := New()
	m.ObserveLookup("malicious")
	m.ObserveLookup("")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("malicious")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("none")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveLookup("clean")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cyberlens_lookups_total{verdict="clean"} 1`)
}
