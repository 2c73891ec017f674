package router

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmetrics-app/internal/cache"
	"sysmetrics-app/internal/config"
	"sysmetrics-app/internal/ingest"
	"sysmetrics-app/internal/query"
	"sysmetrics-app/internal/realtime"
	"sysmetrics-app/internal/repository"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

func newTestRouter(t *testing.T, origins []string) (http.Handler, *telemetry.Pipeline) {
	t.Helper()
	logger := &util.MetricsLogger{}
	store := repository.NewMemoryStore()
	require.NoError(t, store.Init())

	metrics := telemetry.NewPipeline()
	c := cache.New()
	latest := query.NewLatestQueryService(c, store, logger, query.Options{Telemetry: metrics})
	hub := realtime.NewHub(latest, store, logger, realtime.Options{Telemetry: metrics})
	t.Cleanup(hub.Close)

	return NewRouter(Services{
		Store:     store,
		Ingestor:  ingest.NewService(c, store, logger, ingest.Options{Telemetry: metrics}),
		Latest:    latest,
		Hub:       hub,
		Telemetry: metrics,
	}, origins, logger), metrics
}

func TestRoutes(t *testing.T) {
	r, _ := newTestRouter(t, []string{"*"})

	body := `{"collected_at":1000,"cpu":{"usage_percent":42.5},` +
		`"memory":{"total_kb":16000000,"free_kb":8000000,"used_kb":8000000,"usage_percent":50.0}}`
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	for _, path := range []string{
		"/metrics/latest", "/metrics/history?family=ram", "/metrics/range", "/metrics/stats",
		"/metrics/complete", "/health", "/clients",
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"), path)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/metrics/latest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics/latest", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/prometheus", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	out, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(out), `sysmetrics_latest_reads_total{source="default"} 1`)
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t, []string{"http://dashboard.local"})

	req := httptest.NewRequest(http.MethodOptions, "/metrics", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://dashboard.local", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/clients", nil)
	req.Header.Set("Origin", "http://evil.local")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunGracefulShutdown(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	server := NewServer(config.ServerConfig{Addr: addr, ReadTimeout: time.Second, WriteTimeout: time.Second}, r)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, server, &util.MetricsLogger{}, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/clients")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var res struct {
			Status bool `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&res)
		return resp.StatusCode == http.StatusOK && res.Status
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
