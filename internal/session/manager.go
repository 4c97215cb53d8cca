package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/protocol"
	"github.com/gantry-project/gantry/internal/registry"
)

// Manager owns every live session and the dependencies dispatch needs.
type Manager struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	registry   *registry.Registry
	authorizer Authorizer
	recorder   Recorder

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthorizer gates every dispatched method through a policy decision.
func WithAuthorizer(a Authorizer) Option {
	return func(m *Manager) { m.authorizer = a }
}

// WithRecorder sends completed dispatch records to an audit sink.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a session manager.
func NewManager(cfg config.ServerConfig, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Serve runs one session over an accepted connection and blocks until the
// session ends. The transport is closed on every return path.
func (m *Manager) Serve(transport Transport, identity Identity) error {
	s := newSession(m, transport, identity)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = transport.Close()
		return ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = transport.Close()
		m.logger.Warn("Rejected session over cap", zap.Int("max_sessions", m.cfg.MaxSessions))
		return ErrTooManySessions
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsOpened.Inc()
	metrics.SessionsActive.Set(float64(active))
	m.logger.Info("Session opened",
		zap.String("session_id", s.id),
		zap.String("subject", identity.Subject),
		zap.Int("active", active))

	reason := s.run()

	m.mu.Lock()
	delete(m.sessions, s.id)
	active = len(m.sessions)
	m.wg.Done()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	m.logger.Info("Session closed",
		zap.String("session_id", s.id),
		zap.String("reason", reason),
		zap.Int("active", active))
	return nil
}

// ActiveSessions reports the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Broadcast enqueues a notification on every Ready session that negotiated
// the named feature capability and returns how many sessions took it.
func (m *Manager) Broadcast(feature, method string, params interface{}) int {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		m.logger.Error("Encode broadcast failed", zap.String("method", method), zap.Error(err))
		return 0
	}

	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	sent := 0
	for _, s := range targets {
		if s.notify(feature, msg) {
			sent++
		}
	}
	return sent
}

// Shutdown stops accepting connections, closes every live session, and
// waits for them to drain or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Closing sessions for shutdown", zap.Int("count", len(open)))
	for _, s := range open {
		s.beginClose(ReasonShutdown)
	}

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
