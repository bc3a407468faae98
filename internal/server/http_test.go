package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/selfie-quiz/internal/config"
)

func newTestServer(t *testing.T, routes func(*http.ServeMux)) *httptest.Server {
	t.Helper()
	cfg := &config.App{CORS: config.CORS{AllowedOrigins: []string{"http://localhost:5173"}}}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))

	srv := httptest.NewServer(NewHTTPServer(cfg, zerolog.Nop(), nil, registry, routes).Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthzWithoutRedis(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsUsesRegistry(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "test_total")
}

func TestRoutesAreMounted(t *testing.T) {
	srv := newTestServer(t, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /v1/hello", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	})
	resp, err := http.Get(srv.URL + "/v1/hello")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUpgraderChecksOrigin(t *testing.T) {
	upgrader := NewUpgrader(config.CORS{AllowedOrigins: []string{"http://localhost:5173"}})

	r := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, upgrader.CheckOrigin(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, upgrader.CheckOrigin(r))
}
