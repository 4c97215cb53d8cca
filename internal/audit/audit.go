// Package audit records security-relevant events: denied dispatches and
// upstream failures that retries could not absorb. Events flow through an
// async buffered writer into a pluggable sink, so a slow or unavailable
// store never stalls the session hot path.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the server.
const (
	EventAuthzDenied     = "authz.denied"
	EventAuthFailure     = "auth.failure"
	EventUpstreamFailure = "upstream.failure"
)

// Severities attached to events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Details carries the free-form payload of an event. It marshals to a
// jsonb column on postgres and a TEXT column on sqlite.
type Details map[string]interface{}

// Value implements the driver.Valuer interface
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements the sql.Scanner interface
func (d *Details) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Details", value)
	}

	return json.Unmarshal(bytes, d)
}

// Event is one audit record.
type Event struct {
	ID        uuid.UUID `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	Severity  string    `db:"severity" json:"severity"`
	Subject   string    `db:"subject" json:"subject"`
	Resource  string    `db:"resource" json:"resource"`
	Action    string    `db:"action" json:"action"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Details   Details   `db:"details" json:"details,omitempty"`
}

// Sink persists events. Implementations are called from a single writer
// goroutine and may block; the writer owns the timeout.
type Sink interface {
	Write(ctx context.Context, e *Event) error
	Close() error
}

// splitMethod separates a dotted rpc method into resource and action.
func splitMethod(method string) (resource, action string) {
	for i := len(method) - 1; i >= 0; i-- {
		if method[i] == '.' {
			return method[:i], method[i+1:]
		}
	}
	return "", method
}
