// Package session implements the JSON-RPC session core: one Session per
// client connection, the initialize handshake with capability and protocol
// version negotiation, concurrent request dispatch with cooperative
// cancellation, and the built-in $/ method set.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/protocol"
	"github.com/gantry-project/gantry/internal/registry"
)

const (
	outboundBuffer      = 64
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Transport is the framed connection a session serves. *websocket.Conn
// satisfies it; tests use an in-memory fake.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one client connection. The read pump parses and routes frames;
// requests run as independent tasks whose completions send the responses,
// so responses may leave out of request order.
type Session struct {
	id        string
	manager   *Manager
	transport Transport
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	outbound chan *protocol.Message
	done     chan struct{}

	closeOnce   sync.Once
	closeReason string

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	identity Identity

	// Populated by the initialize handshake before any task is spawned.
	client       ClientInfo
	trace        string
	protoVersion string
	capabilities map[string]registry.Capability
}

func newSession(m *Manager, transport Transport, identity Identity) *Session {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		manager:   m,
		transport: transport,
		logger:    m.logger.With(zap.String("session_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		outbound:  make(chan *protocol.Message, outboundBuffer),
		done:      make(chan struct{}),
		inflight:  make(map[string]context.CancelFunc),
		identity:  identity,
		trace:     TraceOff,
	}
}

// ID returns the server-assigned session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// run services the connection until it ends and returns the close reason.
func (s *Session) run() string {
	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		s.writePump()
	}()

	s.readPump()
	s.beginClose(ReasonTransport)
	writers.Wait()
	s.state.Store(int32(StateClosed))
	return s.closeReason
}

// beginClose starts teardown once: in-flight tasks are cancelled, the write
// pump drains queued frames and closes the transport, and the read pump
// follows it out.
func (s *Session) beginClose(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		s.state.Store(int32(StateClosing))
		s.cancel()
		close(s.done)
	})
}

func (s *Session) readPump() {
	cfg := s.manager.cfg
	if cfg.ReadLimitBytes > 0 {
		s.transport.SetReadLimit(cfg.ReadLimitBytes)
	}
	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}
	_ = s.transport.SetReadDeadline(time.Now().Add(pongTimeout))
	s.transport.SetPongHandler(func(string) error {
		return s.transport.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := s.transport.ReadMessage()
		if err != nil {
			if s.State() < StateClosing {
				s.logger.Debug("Transport read ended", zap.Error(err))
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) writePump() {
	interval := s.manager.cfg.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.transport.Close()

	for {
		select {
		case msg := <-s.outbound:
			if !s.writeFrame(msg) {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.writeTimeout())
			if err := s.transport.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		case <-s.done:
			// Flush what was queued before teardown, then close.
			for {
				select {
				case msg := <-s.outbound:
					if !s.writeFrame(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeTimeout() time.Duration {
	if t := s.manager.cfg.WriteTimeout; t > 0 {
		return t
	}
	return defaultWriteTimeout
}

func (s *Session) writeFrame(msg *protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Dropped unencodable frame", zap.Error(err))
		return true
	}
	_ = s.transport.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	if err := s.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Transport write failed", zap.Error(err))
		return false
	}
	if s.trace == TraceVerbose {
		s.logger.Debug("trace send", zap.ByteString("frame", data))
	}
	return true
}

func (s *Session) handleFrame(data []byte) {
	if s.trace != TraceOff {
		s.logger.Debug("trace recv", zap.ByteString("frame", data))
	}
	msg, err := protocol.Parse(data)
	if err != nil {
		s.enqueue(protocol.NewErrorResponse(protocol.NullID(), protocol.ErrorFor(err)))
		return
	}
	switch msg.Type() {
	case protocol.KindRequest:
		s.handleRequest(msg)
	case protocol.KindNotification:
		s.handleNotification(msg)
	default:
		// The server issues no requests of its own, so client responses
		// have nothing to correlate with.
		s.logger.Debug("Dropped unexpected response frame", zap.String("id", msg.ID.Key()))
	}
}

func (s *Session) handleRequest(msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodInitialize:
		s.handleInitialize(msg)
		return
	case protocol.MethodPing:
		s.respondResult(*msg.ID, map[string]bool{"pong": true})
		return
	}
	if s.State() != StateReady {
		s.respondError(*msg.ID, protocol.Errorf(protocol.CodeInvalidRequest, "Connection not initialized"))
		return
	}
	switch msg.Method {
	case protocol.MethodClose:
		s.respondResult(*msg.ID, map[string]bool{"closing": true})
		s.beginClose(ReasonClientClose)
		return
	case protocol.MethodCancelRequest:
		s.respondResult(*msg.ID, map[string]bool{"cancelled": s.cancelByParams(msg.Params)})
		return
	}

	handler, ok := s.manager.registry.Lookup(msg.Method)
	if !ok {
		s.respondError(*msg.ID, protocol.Errorf(protocol.CodeMethodNotFound, "method %q is not registered", msg.Method))
		return
	}
	s.spawn(msg, handler)
}

func (s *Session) handleNotification(msg *protocol.Message) {
	if msg.Method == protocol.MethodPing {
		return
	}
	if s.State() != StateReady {
		s.logger.Warn("Dropped notification before initialize", zap.String("method", msg.Method))
		return
	}
	switch msg.Method {
	case protocol.MethodCancelRequest:
		s.cancelByParams(msg.Params)
	case protocol.MethodClose:
		s.beginClose(ReasonClientClose)
	default:
		s.logger.Warn("Dropped notification without handler", zap.String("method", msg.Method))
	}
}

func (s *Session) handleInitialize(msg *protocol.Message) {
	if !s.transition(StateNew, StateInitializing) {
		s.respondError(*msg.ID, protocol.Errorf(protocol.CodeInvalidRequest, "session already initialized"))
		return
	}
	// Invalid handshakes return the session to New so the client can retry.
	fail := func(rpcErr *protocol.Error) {
		s.state.Store(int32(StateNew))
		s.respondError(*msg.ID, rpcErr)
	}

	var params initializeParams
	if len(msg.Params) == 0 {
		fail(protocol.Errorf(protocol.CodeInvalidParams, "initialize requires params").
			WithData(map[string]string{"path": "/params"}))
		return
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		fail(protocol.Errorf(protocol.CodeInvalidParams, "malformed initialize params: %v", err).
			WithData(map[string]string{"path": "/params"}))
		return
	}
	if params.ClientInfo == nil || params.ClientInfo.Name == "" {
		fail(protocol.Errorf(protocol.CodeInvalidParams, "clientInfo.name is required").
			WithData(map[string]string{"path": "/params/clientInfo/name"}))
		return
	}
	clientCaps, ok := decodeCapabilities(params.Capabilities)
	if !ok {
		fail(protocol.Errorf(protocol.CodeInvalidParams, "capabilities must be an object").
			WithData(map[string]string{"path": "/params/capabilities"}))
		return
	}
	switch params.Trace {
	case "", TraceOff, TraceMessages, TraceVerbose:
	default:
		fail(protocol.Errorf(protocol.CodeInvalidParams, "trace must be off, messages or verbose").
			WithData(map[string]string{"path": "/params/trace"}))
		return
	}
	version, err := negotiateVersion(s.manager.cfg.ProtocolVersions, params.ProtocolVersions)
	if err != nil {
		fail(protocol.Errorf(protocol.CodeInvalidRequest, "No compatible protocol version"))
		return
	}

	s.client = *params.ClientInfo
	if params.Trace != "" {
		s.trace = params.Trace
	}
	s.protoVersion = version
	s.capabilities = s.manager.registry.Negotiate(clientCaps)
	s.state.Store(int32(StateReady))

	s.logger.Info("Session ready",
		zap.String("client", s.client.Name),
		zap.String("protocol_version", version),
		zap.Int("capabilities", len(s.capabilities)))

	s.respondResult(*msg.ID, initializeResult{
		ServerInfo: ServerInfo{
			Name:   s.manager.cfg.ServerName,
			Vendor: s.manager.cfg.ServerVendor,
		},
		ServerVersion:   s.manager.cfg.ServerVersion,
		ProtocolVersion: version,
		Capabilities:    s.capabilities,
	})
}

func decodeCapabilities(raw json.RawMessage) (map[string]registry.ClientCapability, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var caps map[string]registry.ClientCapability
	if err := json.Unmarshal(trimmed, &caps); err != nil {
		return nil, false
	}
	return caps, true
}

// spawn tracks a request in the in-flight table and runs its handler as an
// independent task. The task is the only sender of the response, which is
// what keeps cancelled requests from answering twice.
func (s *Session) spawn(msg *protocol.Message, handler registry.Handler) {
	key := msg.ID.Key()
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if _, exists := s.inflight[key]; exists {
		s.mu.Unlock()
		cancel()
		s.respondError(*msg.ID, protocol.Errorf(protocol.CodeInvalidRequest, "request id %s is already in flight", key))
		return
	}
	s.inflight[key] = cancel
	s.mu.Unlock()

	metrics.RPCInFlight.Inc()
	go func() {
		start := time.Now()
		result, err := s.invoke(ctx, msg, handler)

		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		cancel()
		metrics.RPCInFlight.Dec()

		if err != nil {
			s.respondError(*msg.ID, protocol.ErrorFor(err))
		} else {
			s.respondResult(*msg.ID, result)
		}

		elapsed := time.Since(start)
		metrics.RecordRPCMetrics(msg.Method, statusLabel(err), elapsed.Seconds())
		if s.manager.recorder != nil {
			s.manager.recorder.RecordCall(context.Background(), CallRecord{
				SessionID:  s.id,
				ClientName: s.client.Name,
				Subject:    s.identity.Subject,
				Method:     msg.Method,
				Duration:   elapsed,
				Err:        err,
			})
		}
	}()
}

func (s *Session) invoke(ctx context.Context, msg *protocol.Message, handler registry.Handler) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked",
				zap.String("method", msg.Method), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if s.manager.authorizer != nil {
		if err := s.manager.authorizer.Authorize(ctx, AuthzInput{
			SessionID:  s.id,
			ClientName: s.client.Name,
			Subject:    s.identity.Subject,
			Teams:      s.identity.Teams,
			Method:     msg.Method,
		}); err != nil {
			return nil, err
		}
	}
	return handler(ctx, msg.Params)
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

func (s *Session) cancelByParams(raw json.RawMessage) bool {
	var params cancelParams
	if err := json.Unmarshal(raw, &params); err != nil || len(params.ID) == 0 {
		s.logger.Warn("cancelRequest without a usable id")
		return false
	}
	key := string(bytes.TrimSpace(params.ID))

	s.mu.Lock()
	cancel, ok := s.inflight[key]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("cancelRequest for unknown id", zap.String("id", key))
		return false
	}
	cancel()
	metrics.RPCCancellations.Inc()
	return true
}

func (s *Session) respondResult(id protocol.ID, result interface{}) {
	msg, err := protocol.NewResponse(id, result)
	if err != nil {
		s.logger.Error("Encode response failed", zap.Error(err))
		msg = protocol.NewErrorResponse(id, protocol.Errorf(protocol.CodeInternalError, "encode response: %v", err))
	}
	s.enqueue(msg)
}

func (s *Session) respondError(id protocol.ID, rpcErr *protocol.Error) {
	s.enqueue(protocol.NewErrorResponse(id, rpcErr))
}

func (s *Session) enqueue(msg *protocol.Message) {
	select {
	case s.outbound <- msg:
	case <-s.done:
	}
}

// notify enqueues a server-initiated notification when the session is Ready
// and negotiated the named feature. A session with a full outbound queue
// loses the notification rather than stalling the broadcaster.
func (s *Session) notify(feature string, msg *protocol.Message) bool {
	if s.State() != StateReady {
		return false
	}
	c, ok := s.capabilities[feature]
	if !ok || c.Type != registry.CapabilityFeature {
		return false
	}
	select {
	case s.outbound <- msg:
		return true
	default:
		s.logger.Debug("Dropped notification on full outbound queue",
			zap.String("method", msg.Method))
		return false
	}
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch faults.KindOf(err) {
	case faults.KindValidation:
		return "invalid"
	case faults.KindUnauthorized:
		return "unauthorized"
	case faults.KindNotFound:
		return "not_found"
	case faults.KindUpstream:
		return "upstream_error"
	case faults.KindRateLimited:
		return "rate_limited"
	case faults.KindTimeout:
		return "timeout"
	case faults.KindCancelled:
		return "cancelled"
	default:
		return "error"
	}
}
