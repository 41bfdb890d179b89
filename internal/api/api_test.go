package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/metrics"
	"github.com/cyberlens/cyber-lens/internal/orchestrator"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"github.com/cyberlens/cyber-lens/internal/store"
)

func conf(v float64) *float64 { return &v }

type failingLooker struct{ err error }

func (f failingLooker) Lookup(context.Context, lookup.Request) (*lookup.Result, error) {
	return nil, f.err
}

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := provider.NewMock("a")
	a.Result = &provider.RawResult{Verdict: "malicious", Confidence: conf(85)}
	b := provider.NewMock("b")
	b.Result = &provider.RawResult{Verdict: "clean", Confidence: conf(30)}
	c := provider.NewMock("c")
	c.Delay = time.Second

	m := metrics.New()
	orch := orchestrator.New([]provider.Provider{a, b, c},
		orchestrator.WithTimeout(50*time.Millisecond),
		orchestrator.WithObserver(m.ObserveProvider))
	svc := lookup.NewService(orch, lookup.WithHistory(st), lookup.WithMetrics(m))

	srv, err := NewServer(opts, Deps{Lookups: svc, History: st, Metrics: m})
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLookupEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/lookup", `{"ioc":"8.8.8.8"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Lookup-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "8.8.8.8", body["ioc"])
	assert.Equal(t, "IP", body["type"])
	assert.EqualValues(t, 70, body["score"])
	assert.Equal(t, "malicious", body["verdict"])
	assert.Len(t, body["providers"], 3)

	meta := body["meta"].(map[string]interface{})
	scoring := meta["scoring"].(map[string]interface{})
	assert.EqualValues(t, 2, scoring["processedProviders"])
	assert.Len(t, scoring["warnings"], 1)
}

func TestLookupEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	for _, body := range []string{`{}`, `{"ioc":"   "}`, `{"ioc":42}`, `not json`} {
		rec := do(t, srv.Handler(), http.MethodPost, "/lookup", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Missing or invalid 'ioc' field"}`, rec.Body.String())
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/lookup", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLookupEndpointBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxBodyBytes: 32})
	rec := do(t, srv.Handler(), http.MethodPost, "/lookup", `{"ioc":"`+strings.Repeat("a", 64)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestLookupEndpointUnknownTypeHint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/lookup", `{"ioc":"example.com","type":"email"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Type string `json:"type"`
		Meta struct {
			Validation map[string]interface{} `json:"validation"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Domain", body.Type)
	assert.Contains(t, body.Meta.Validation["warning"], "email")
}

func TestLookupEndpointInternalFailure(t *testing.T) {
	srv, err := NewServer(Options{}, Deps{Lookups: failingLooker{err: errors.New("boom")}})
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodPost, "/lookup", `{"ioc":"8.8.8.8"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Lookup failed","details":"boom"}`, rec.Body.String())
}

func TestHistoryEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{TrustProxy: true})
	h := srv.Handler()
	alice := map[string]string{OwnerHeader: "alice"}

	first := do(t, h, http.MethodPost, "/lookup", `{"ioc":"8.8.8.8"}`, alice)
	require.Equal(t, http.StatusOK, first.Code)
	do(t, h, http.MethodPost, "/lookup", `{"ioc":"example.com"}`, alice)
	do(t, h, http.MethodPost, "/lookup", `{"ioc":"evil.org"}`, nil) // guest

	rec := do(t, h, http.MethodGet, "/history", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []store.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	rec = do(t, h, http.MethodGet, "/history?q=domain&limit=500&offset=-1", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "example.com", entries[0].IOCValue)

	id := first.Header().Get("X-Lookup-ID")
	rec = do(t, h, http.MethodGet, "/history/"+id, "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry struct {
		ID       string                 `json:"id"`
		Response map[string]interface{} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "8.8.8.8", entry.Response["ioc"])

	// Scoped per owner.
	rec = do(t, h, http.MethodGet, "/history/"+id, "", map[string]string{OwnerHeader: "bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["store"])
	assert.Equal(t, "ok", health["bus"])

	do(t, h, http.MethodPost, "/lookup", `{"ioc":"8.8.8.8"}`, nil)
	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cyberlens_lookups_total")
	assert.Contains(t, rec.Body.String(), `cyberlens_provider_requests_total{provider="c",status="timeout"} 1`)
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RPS: 1, Burst: 1})
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Separate clients get separate buckets.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestOwnerResolution(t *testing.T) {
	srv, _ := newTestServer(t, Options{TrustProxy: true})

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set(OwnerHeader, " alice ")
	owner, ok := srv.owner(req)
	require.True(t, ok)
	assert.Equal(t, store.Owner{Type: "user", ID: "alice"}, owner)

	req = httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	owner, ok = srv.owner(req)
	require.True(t, ok)
	assert.Equal(t, store.Owner{Type: "guest", ID: "203.0.113.9"}, owner)
}

func TestOwnerHeaderIgnoredWithoutTrustedProxy(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set(OwnerHeader, "alice")
	owner, ok := srv.owner(req)
	require.True(t, ok)
	assert.Equal(t, store.Owner{Type: "guest", ID: "198.51.100.7"}, owner)

	// alice's lookup is stored under the caller's guest identity, so a forged
	// header from another address cannot read it.
	rec := do(t, h, http.MethodPost, "/lookup", `{"ioc":"8.8.8.8"}`, map[string]string{OwnerHeader: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Lookup-ID")
	require.NotEmpty(t, id)

	req = httptest.NewRequest(http.MethodGet, "/history/"+id, nil)
	req.RemoteAddr = "198.51.100.8:4000"
	req.Header.Set(OwnerHeader, "alice")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestServerStart(t *testing.T) {
	srv, _ := newTestServer(t, Options{Bind: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	assert.Error(t, srv.Start(ctx))
}
