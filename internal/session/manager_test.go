package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/protocol"
	"github.com/gantry-project/gantry/internal/registry"
)

// fakeConn is an in-memory Transport. Frames pushed to in are read by the
// session; frames the session writes land on out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.out <- buf:
		return nil
	}
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
		return nil
	}
}

func (c *fakeConn) SetReadLimit(limit int64)            {}
func (c *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {}
func (c *fakeConn) SetWriteDeadline(t time.Time) error  { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// frame decodes server output without the strictness of protocol.Parse, so
// null-id error frames stay observable.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *protocol.Error `json:"error"`
}

func send(t *testing.T, conn *fakeConn, raw string) {
	t.Helper()
	select {
	case conn.in <- []byte(raw):
	case <-time.After(time.Second):
		t.Fatal("send timed out")
	}
}

func recv(t *testing.T, conn *fakeConn) frame {
	t.Helper()
	select {
	case data := <-conn.out:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
		return frame{}
	}
}

func resultMap(t *testing.T, f frame) map[string]interface{} {
	t.Helper()
	require.Nil(t, f.Error, "expected a result, got error %+v", f.Error)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Result, &out))
	return out
}

func errData(t *testing.T, f frame) map[string]interface{} {
	t.Helper()
	require.NotNil(t, f.Error)
	data, ok := f.Error.Data.(map[string]interface{})
	require.True(t, ok, "error data is %T", f.Error.Data)
	return data
}

// stubProvider serves issue methods with overridable behavior.
type stubProvider struct {
	typ  models.ResourceType
	ops  []registry.Operation
	get  func(ctx context.Context, params json.RawMessage) (interface{}, error)
	list func(ctx context.Context, params json.RawMessage) (interface{}, error)
}

func (p *stubProvider) Type() models.ResourceType { return p.typ }
func (p *stubProvider) SupportedOps() []registry.Operation {
	if p.ops != nil {
		return p.ops
	}
	return []registry.Operation{registry.OpList, registry.OpGet}
}
func (p *stubProvider) Get(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if p.get != nil {
		return p.get(ctx, params)
	}
	return map[string]string{"ok": "get"}, nil
}
func (p *stubProvider) List(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if p.list != nil {
		return p.list(ctx, params)
	}
	return map[string]string{"ok": "list"}, nil
}
func (p *stubProvider) Create(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]string{"ok": "create"}, nil
}
func (p *stubProvider) Update(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]string{"ok": "update"}, nil
}
func (p *stubProvider) Delete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]string{"ok": "delete"}, nil
}
func (p *stubProvider) Query(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]string{"ok": "query"}, nil
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		MaxSessions:      4,
		ReadLimitBytes:   1 << 20,
		PingInterval:     time.Second,
		PongTimeout:      5 * time.Second,
		WriteTimeout:     time.Second,
		ShutdownGrace:    time.Second,
		ServerName:       "gantry",
		ServerVendor:     "Gantry",
		ServerVersion:    "0.1.0",
		ProtocolVersions: []string{"1.0", "1.1", "2.0"},
	}
}

func newRegistry(t *testing.T, providers ...registry.ResourceProvider) *registry.Registry {
	t.Helper()
	reg := registry.New(zaptest.NewLogger(t))
	for _, p := range providers {
		require.NoError(t, reg.RegisterResource(p))
	}
	return reg
}

func startSession(t *testing.T, cfg config.ServerConfig, reg *registry.Registry, opts ...Option) (*Manager, *fakeConn, chan error) {
	t.Helper()
	m := NewManager(cfg, reg, zaptest.NewLogger(t), opts...)
	conn := newFakeConn()
	served := make(chan error, 1)
	go func() { served <- m.Serve(conn, Identity{Subject: "gk_test", Name: "probe"}) }()
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-served:
		case <-time.After(2 * time.Second):
		}
	})
	return m, conn, served
}

func initFrame(id int) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"initialize","params":{"clientInfo":{"name":"probe"},"capabilities":{}}}`, id)
}

func initialize(t *testing.T, conn *fakeConn) frame {
	t.Helper()
	send(t, conn, initFrame(1))
	f := recv(t, conn)
	require.Nil(t, f.Error, "initialize failed: %+v", f.Error)
	return f
}

func TestInitializeHandshake(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}))

	f := initialize(t, conn)
	var result struct {
		ServerInfo      ServerInfo                 `json:"serverInfo"`
		ServerVersion   string                     `json:"serverVersion"`
		ProtocolVersion string                     `json:"protocolVersion"`
		Capabilities    map[string]json.RawMessage `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(f.Result, &result))
	assert.Equal(t, "gantry", result.ServerInfo.Name)
	assert.Equal(t, "Gantry", result.ServerInfo.Vendor)
	assert.Equal(t, "0.1.0", result.ServerVersion)
	assert.Equal(t, "2.0", result.ProtocolVersion)
	assert.Empty(t, result.Capabilities, "empty client advertisement negotiates nothing")

	send(t, conn, `{"jsonrpc":"2.0","id":2,"method":"issue.get","params":{"id":"iss_1"}}`)
	assert.Equal(t, map[string]interface{}{"ok": "get"}, resultMap(t, recv(t, conn)))
}

func TestRequestBeforeInitializeRejected(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}))

	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"issue.get","params":{"id":"iss_1"}}`)
	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, f.Error.Code)
	assert.Equal(t, "Connection not initialized", f.Error.Message)

	// $/ping stays available in every state.
	send(t, conn, `{"jsonrpc":"2.0","id":2,"method":"$/ping"}`)
	assert.Equal(t, map[string]interface{}{"pong": true}, resultMap(t, recv(t, conn)))
}

func TestNotificationBeforeInitializeDropped(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}))

	send(t, conn, `{"jsonrpc":"2.0","method":"issue.list","params":{}}`)
	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"$/ping"}`)

	// The only frame out is the pong: the notification produced nothing.
	f := recv(t, conn)
	assert.Equal(t, map[string]interface{}{"pong": true}, resultMap(t, f))
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name   string
		params string
		path   string
	}{
		{"missing client name", `{"clientInfo":{},"capabilities":{}}`, "/params/clientInfo/name"},
		{"missing capabilities", `{"clientInfo":{"name":"probe"}}`, "/params/capabilities"},
		{"capabilities not object", `{"clientInfo":{"name":"probe"},"capabilities":[1]}`, "/params/capabilities"},
		{"bad trace", `{"clientInfo":{"name":"probe"},"capabilities":{},"trace":"loud"}`, "/params/trace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conn, _ := startSession(t, testConfig(), newRegistry(t))

			send(t, conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":%s}`, tt.params))
			f := recv(t, conn)
			require.NotNil(t, f.Error)
			assert.Equal(t, protocol.CodeInvalidParams, f.Error.Code)
			assert.Equal(t, tt.path, errData(t, f)["path"])

			// A failed handshake leaves the session receivable.
			f = initialize(t, conn)
			assert.Nil(t, f.Error)
		})
	}
}

func TestInitializeVersionNegotiation(t *testing.T) {
	t.Run("set picks highest intersection", func(t *testing.T) {
		_, conn, _ := startSession(t, testConfig(), newRegistry(t))
		send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"probe"},"capabilities":{},"protocolVersions":["1.0","1.1"]}}`)
		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		f := recv(t, conn)
		require.Nil(t, f.Error)
		require.NoError(t, json.Unmarshal(f.Result, &result))
		assert.Equal(t, "1.1", result.ProtocolVersion)
	})

	t.Run("range picks highest within bounds", func(t *testing.T) {
		_, conn, _ := startSession(t, testConfig(), newRegistry(t))
		send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"probe"},"capabilities":{},"protocolVersions":{"min":"1.0","max":"1.1"}}}`)
		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		f := recv(t, conn)
		require.Nil(t, f.Error)
		require.NoError(t, json.Unmarshal(f.Result, &result))
		assert.Equal(t, "1.1", result.ProtocolVersion)
	})

	t.Run("no overlap fails then recovers", func(t *testing.T) {
		_, conn, _ := startSession(t, testConfig(), newRegistry(t))
		send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"probe"},"capabilities":{},"protocolVersions":["3.0"]}}`)
		f := recv(t, conn)
		require.NotNil(t, f.Error)
		assert.Equal(t, protocol.CodeInvalidRequest, f.Error.Code)
		assert.Equal(t, "No compatible protocol version", f.Error.Message)

		f = initialize(t, conn)
		assert.Nil(t, f.Error)
	})
}

func TestInitializeTwiceRejected(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t))

	initialize(t, conn)
	send(t, conn, initFrame(9))
	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, f.Error.Code)
	assert.Contains(t, f.Error.Message, "already initialized")
}

func TestCapabilityNegotiationFiltersByType(t *testing.T) {
	reg := newRegistry(t, &stubProvider{typ: models.ResourceIssue})
	require.NoError(t, reg.RegisterFeature("textDocument", map[string]interface{}{"sync": "full"}))
	_, conn, _ := startSession(t, testConfig(), reg)

	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"probe"},"capabilities":{"issue":{"type":"resource"},"textDocument":{"type":"tool"}}}}`)
	f := recv(t, conn)
	require.Nil(t, f.Error)

	var result struct {
		Capabilities map[string]struct {
			Type string `json:"type"`
		} `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(f.Result, &result))
	assert.Contains(t, result.Capabilities, "issue")
	assert.NotContains(t, result.Capabilities, "textDocument", "type mismatch is omitted")
}

func TestConcurrentRequestsRespondOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			select {
			case <-release:
				return map[string]string{"ok": "slow"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":10,"method":"issue.get","params":{"id":"iss_1"}}`)
	send(t, conn, `{"jsonrpc":"2.0","id":11,"method":"issue.list","params":{}}`)

	first := recv(t, conn)
	assert.Equal(t, "11", string(first.ID), "fast request answers first")

	close(release)
	second := recv(t, conn)
	assert.Equal(t, "10", string(second.ID))
	assert.Equal(t, map[string]interface{}{"ok": "slow"}, resultMap(t, second))
}

func TestCancelRequestStopsInFlightTask(t *testing.T) {
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":7,"method":"issue.get","params":{"id":"iss_1"}}`)
	send(t, conn, `{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":7}}`)

	f := recv(t, conn)
	assert.Equal(t, "7", string(f.ID))
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeCancelled, f.Error.Code)

	// Nothing else leaks for id 7: the next frame out is the pong.
	send(t, conn, `{"jsonrpc":"2.0","id":8,"method":"$/ping"}`)
	f = recv(t, conn)
	assert.Equal(t, "8", string(f.ID))
	assert.Equal(t, map[string]interface{}{"pong": true}, resultMap(t, f))
}

func TestCancelRequestUnknownId(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":5,"method":"$/cancelRequest","params":{"id":99}}`)
	assert.Equal(t, map[string]interface{}{"cancelled": false}, resultMap(t, recv(t, conn)))
}

func TestUnknownMethod(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}))
	initialize(t, conn)

	for _, method := range []string{"bogus.get", "issue.explode", "$/bogus"} {
		send(t, conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"%s","params":{}}`, method))
		f := recv(t, conn)
		require.NotNil(t, f.Error, "method %q", method)
		assert.Equal(t, protocol.CodeMethodNotFound, f.Error.Code)
	}
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			panic("boom")
		},
	}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":4,"method":"issue.get","params":{}}`)
	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeInternalError, f.Error.Code)
	assert.Contains(t, f.Error.Message, "handler panic: boom")

	// The session survives the panic.
	send(t, conn, `{"jsonrpc":"2.0","id":5,"method":"$/ping"}`)
	assert.Equal(t, map[string]interface{}{"pong": true}, resultMap(t, recv(t, conn)))
}

func TestHandlerFaultMapsToDomainCode(t *testing.T) {
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			return nil, faults.NotFound("issue", "iss_9")
		},
	}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":6,"method":"issue.get","params":{"id":"iss_9"}}`)
	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeNotFound, f.Error.Code)
	assert.Equal(t, `issue "iss_9" not found`, f.Error.Message)
}

type denyAuthorizer struct {
	mu      sync.Mutex
	methods []string
}

func (a *denyAuthorizer) Authorize(ctx context.Context, in AuthzInput) error {
	a.mu.Lock()
	a.methods = append(a.methods, in.Method)
	a.mu.Unlock()
	if in.Method == "issue.get" {
		return faults.Unauthorized("method %s denied for %s", in.Method, in.ClientName)
	}
	return nil
}

func TestAuthorizerGatesDispatch(t *testing.T) {
	authz := &denyAuthorizer{}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}), WithAuthorizer(authz))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"issue.get","params":{}}`)
	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeUnauthorized, f.Error.Code)

	send(t, conn, `{"jsonrpc":"2.0","id":2,"method":"issue.list","params":{}}`)
	assert.Equal(t, map[string]interface{}{"ok": "list"}, resultMap(t, recv(t, conn)))

	authz.mu.Lock()
	defer authz.mu.Unlock()
	assert.Equal(t, []string{"issue.get", "issue.list"}, authz.methods)
}

type captureRecorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func (r *captureRecorder) RecordCall(ctx context.Context, rec CallRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func TestRecorderSeesCompletedCalls(t *testing.T) {
	rec := &captureRecorder{}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, &stubProvider{typ: models.ResourceIssue}), WithRecorder(rec))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"issue.list","params":{}}`)
	recv(t, conn)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.records) == 1
	}, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "issue.list", rec.records[0].Method)
	assert.Equal(t, "probe", rec.records[0].ClientName)
	assert.Equal(t, "gk_test", rec.records[0].Subject)
	assert.NoError(t, rec.records[0].Err)
}

func TestClientClose(t *testing.T) {
	m, conn, served := startSession(t, testConfig(), newRegistry(t))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":3,"method":"$/close"}`)
	f := recv(t, conn)
	assert.Equal(t, map[string]interface{}{"closing": true}, resultMap(t, f))

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed")
	}
	require.NoError(t, <-served)
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestDuplicateRequestIdRejected(t *testing.T) {
	release := make(chan struct{})
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			select {
			case <-release:
				return map[string]string{"ok": "get"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	_, conn, _ := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","id":5,"method":"issue.get","params":{}}`)
	send(t, conn, `{"jsonrpc":"2.0","id":5,"method":"issue.get","params":{}}`)

	f := recv(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, f.Error.Code)
	assert.Contains(t, f.Error.Message, "already in flight")

	close(release)
	f = recv(t, conn)
	assert.Equal(t, map[string]interface{}{"ok": "get"}, resultMap(t, f))
}

func TestParseErrorRepliesWithNullId(t *testing.T) {
	_, conn, _ := startSession(t, testConfig(), newRegistry(t))

	send(t, conn, `{"jsonrpc":"2.0",`)
	f := recv(t, conn)
	assert.Equal(t, "null", string(f.ID))
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeParseError, f.Error.Code)
}

func TestMaxSessionsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	m, conn, _ := startSession(t, cfg, newRegistry(t))
	initialize(t, conn) // first session fully registered

	err := m.Serve(newFakeConn(), Identity{Subject: "gk_other"})
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestShutdownDrainsSessions(t *testing.T) {
	provider := &stubProvider{
		typ: models.ResourceIssue,
		get: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m, conn, served := startSession(t, testConfig(), newRegistry(t, provider))
	initialize(t, conn)
	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"issue.get","params":{}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, <-served)
	assert.Equal(t, 0, m.ActiveSessions())

	err := m.Serve(newFakeConn(), Identity{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestBroadcastReachesNegotiatedSessions(t *testing.T) {
	reg := newRegistry(t, &stubProvider{typ: models.ResourceIssue})
	require.NoError(t, reg.RegisterFeature("changeEvents", nil))
	m := NewManager(testConfig(), reg, zaptest.NewLogger(t))

	serve := func(name string) *fakeConn {
		conn := newFakeConn()
		go func() { _ = m.Serve(conn, Identity{Subject: "gk_" + name, Name: name}) }()
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	subscribed := serve("sub")
	send(t, subscribed, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"sub"},"capabilities":{"changeEvents":{"type":"feature"}}}}`)
	f := recv(t, subscribed)
	require.Nil(t, f.Error)

	plain := serve("plain")
	send(t, plain, initFrame(1))
	f = recv(t, plain)
	require.Nil(t, f.Error)

	sent := m.Broadcast("changeEvents", protocol.MethodResourceChanged,
		map[string]string{"type": "issue", "action": "create"})
	assert.Equal(t, 1, sent)

	note := recv(t, subscribed)
	assert.Equal(t, protocol.MethodResourceChanged, note.Method)
	assert.Empty(t, note.ID, "notifications carry no id")
	var params map[string]string
	require.NoError(t, json.Unmarshal(note.Params, &params))
	assert.Equal(t, "issue", params["type"])

	// The plain session sees nothing from the broadcast: its next frame is
	// the pong for a ping sent afterwards.
	send(t, plain, `{"jsonrpc":"2.0","id":2,"method":"$/ping"}`)
	f = recv(t, plain)
	assert.Equal(t, "2", string(f.ID))
	require.Nil(t, f.Error)
}
