package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/config"
)

func textHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func TestAdminMuxRoutes(t *testing.T) {
	mux := adminMux(AdminHandlers{
		Healthz: textHandler("healthy"),
		Readyz:  textHandler("ready"),
		Statsz:  StatszHandler(func() interface{} { return map[string]int{"entries": 3} }),
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for path, want := range map[string]string{
		"/healthz": "healthy",
		"/readyz":  "ready",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, want, string(body), "path %s", path)
	}

	resp, err := http.Get(srv.URL + "/statsz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 3, stats["entries"])

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestPublicMuxMountsSessionBehindLimiter(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60}, zaptest.NewLogger(t))
	mux := publicMux(textHandler("session"), rl)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + SessionPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "session", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	missing, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServersStartAndShutdown(t *testing.T) {
	s := New(config.ServerConfig{ListenAddr: "127.0.0.1:0", AdminAddr: "127.0.0.1:0"},
		textHandler("session"), nil, AdminHandlers{}, zaptest.NewLogger(t))

	errCh := s.Start()
	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}
