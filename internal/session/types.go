package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("too many sessions")

	// ErrManagerClosed is returned when new sessions arrive during shutdown.
	ErrManagerClosed = errors.New("session manager closed")
)

// State is the session lifecycle state.
type State int32

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons recorded on the sessions_closed metric.
const (
	ReasonClientClose = "client_close"
	ReasonTransport   = "transport_error"
	ReasonShutdown    = "shutdown"
)

// Identity is who authenticated on the connection, resolved before the
// websocket upgrade.
type Identity struct {
	Subject string
	Name    string
	Teams   []string
}

// ClientInfo is the client self-description from initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerInfo names the server in the initialize response.
type ServerInfo struct {
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
}

// Trace levels accepted on initialize.
const (
	TraceOff      = "off"
	TraceMessages = "messages"
	TraceVerbose  = "verbose"
)

// AuthzInput describes one dispatch for the authorizer.
type AuthzInput struct {
	SessionID  string
	ClientName string
	Subject    string
	Teams      []string
	Method     string
}

// Authorizer gates method dispatch. A nil authorizer allows everything.
type Authorizer interface {
	Authorize(ctx context.Context, in AuthzInput) error
}

// CallRecord describes one completed dispatch for the audit recorder.
type CallRecord struct {
	SessionID  string
	ClientName string
	Subject    string
	Method     string
	Duration   time.Duration
	Err        error
}

// Recorder receives completed dispatch records. A nil recorder drops them.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}
