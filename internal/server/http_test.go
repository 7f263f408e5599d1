package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/metrics"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	rec.ObserveQuery("Mangle", "chain_closure_n4", benchmark.QueryOutcome{Query: "q1", Elapsed: 5 * time.Millisecond, Count: 3})

	mcpCalls := 0
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mcpCalls++
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(NewRouter("/mcp", mcpHandler, reg))
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `ruben_query_outcomes_total{classification="ok",engine="Mangle"} 1`)

	status, _ = get(t, srv, "/mcp")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, 1, mcpCalls)

	status, _ = get(t, srv, "/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouterWithoutMetrics(t *testing.T) {
	srv := httptest.NewServer(NewRouter("/mcp", http.NotFoundHandler(), nil))
	defer srv.Close()

	status, _ := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusNotFound, status)
}
