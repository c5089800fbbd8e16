package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMux_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordUser("processed")

	code, body := get(t, newMux(reg, nil), "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `chatsync_users_total{outcome="processed"} 1`)
}

func TestMux_Health(t *testing.T) {
	code, body := get(t, newMux(prometheus.NewRegistry(), nil), "/health")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"healthy","service":"chat-sync"}`, body)
}

func TestMux_Ready(t *testing.T) {
	ready := false
	h := newMux(prometheus.NewRegistry(), func() bool { return ready })

	code, _ := get(t, h, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)

	ready = true
	code, body := get(t, h, "/ready")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ready"}`, body)
}

func TestObservabilityServer_StartShutdown(t *testing.T) {
	s := NewObservabilityServer("127.0.0.1:0", prometheus.NewRegistry(), nil, zerolog.Nop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestObservabilityServer_BadAddr(t *testing.T) {
	s := NewObservabilityServer("256.0.0.1:bad", prometheus.NewRegistry(), nil, zerolog.Nop())
	require.Error(t, s.Start())
}
