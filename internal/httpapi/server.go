// Package httpapi fronts the process with two HTTP servers: the public one
// carrying the WebSocket session endpoint behind the rate limiter, and the
// admin one carrying health, readiness, metrics, and the stats snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
)

// SessionPath is where clients open WebSocket sessions.
const SessionPath = "/v1/session"

// AdminHandlers carries the handlers mounted on the admin mux. Statsz is
// optional.
type AdminHandlers struct {
	Healthz http.Handler
	Readyz  http.Handler
	Statsz  http.Handler
}

// Servers owns both listeners.
type Servers struct {
	public *http.Server
	admin  *http.Server
	logger *zap.Logger
}

// New assembles the public and admin servers. session handles the WebSocket
// endpoint; limiter may be nil to serve unthrottled.
func New(cfg config.ServerConfig, session http.Handler, limiter *RateLimiter, admin AdminHandlers, logger *zap.Logger) *Servers {
	return &Servers{
		public: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           publicMux(session, limiter),
			ReadHeaderTimeout: 10 * time.Second,
		},
		admin: &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           adminMux(admin),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("httpapi"),
	}
}

func publicMux(session http.Handler, limiter *RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	if limiter != nil {
		session = limiter.Middleware(session)
	}
	mux.Handle(SessionPath, session)
	return mux
}

func adminMux(h AdminHandlers) *http.ServeMux {
	mux := http.NewServeMux()
	if h.Healthz != nil {
		mux.Handle("/healthz", h.Healthz)
	}
	if h.Readyz != nil {
		mux.Handle("/readyz", h.Readyz)
	}
	if h.Statsz != nil {
		mux.Handle("/statsz", h.Statsz)
	}
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start brings up both listeners. Fatal listen errors arrive on the returned
// channel; a clean Shutdown does not.
func (s *Servers) Start() <-chan error {
	errCh := make(chan error, 2)
	go s.serve(s.public, "public", errCh)
	go s.serve(s.admin, "admin", errCh)
	return errCh
}

func (s *Servers) serve(srv *http.Server, name string, errCh chan<- error) {
	s.logger.Info("HTTP server listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

// Shutdown drains both servers within the context deadline.
func (s *Servers) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, srv := range []*http.Server{s.public, s.admin} {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StatszHandler serves a JSON snapshot assembled by the caller, typically
// cache statistics and the upstream rate state.
func StatszHandler(snapshot func() interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
		}
	})
}
