package session

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/auth"
	"github.com/gantry-project/gantry/internal/config"
)

// Server upgrades HTTP requests into session transports. Credentials are
// validated exactly once, before the upgrade, so a rejected client never
// costs a websocket handshake.
type Server struct {
	manager   *Manager
	validator auth.Validator
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewServer builds the websocket endpoint. A nil validator admits every
// connection with an anonymous identity.
func NewServer(m *Manager, validator auth.Validator, cfg config.ServerConfig, logger *zap.Logger) *Server {
	allowed := cfg.AllowedOrigins
	return &Server{
		manager:   m,
		validator: validator,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowed, r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP authenticates, upgrades, and serves one session. It blocks until
// the session ends; the http server accounts for the connection's lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.logger.Debug("Connection rejected",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		w.Header().Set("WWW-Authenticate", `Bearer realm="gantry"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		s.logger.Debug("Upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	switch err := s.manager.Serve(conn, identity); err {
	case nil:
	case ErrTooManySessions:
		// Serve closed the transport; nothing to write on a hijacked conn.
	case ErrManagerClosed:
	default:
		s.logger.Warn("Session ended with error", zap.Error(err))
	}
}

// authenticate resolves the connection's identity from the Authorization
// header (Bearer tokens and raw API keys), the X-API-Key header, or the
// api_key query parameter.
func (s *Server) authenticate(r *http.Request) (Identity, error) {
	if s.validator == nil {
		return Identity{Subject: "anonymous", Name: "anonymous"}, nil
	}

	var principal *auth.Principal
	var err error
	switch {
	case strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "),
		strings.HasPrefix(r.Header.Get("Authorization"), "bearer "):
		token := strings.TrimSpace(r.Header.Get("Authorization")[len("Bearer "):])
		principal, err = s.validator.ValidateBearer(r.Context(), token)
	case r.Header.Get("Authorization") != "":
		principal, err = s.validator.ValidateAPIKey(r.Context(), strings.TrimSpace(r.Header.Get("Authorization")))
	case r.Header.Get("X-API-Key") != "":
		principal, err = s.validator.ValidateAPIKey(r.Context(), r.Header.Get("X-API-Key"))
	case r.URL.Query().Get("api_key") != "":
		principal, err = s.validator.ValidateAPIKey(r.Context(), r.URL.Query().Get("api_key"))
	default:
		return Identity{}, auth.ErrNoCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Subject: principal.Subject,
		Name:    principal.Name,
		Teams:   principal.Teams,
	}, nil
}

// originAllowed applies the configured origin allow-list. An empty list
// admits every origin, and browsers that send no Origin header pass.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}
