package audit

import (
	"context"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/session"
	"github.com/gantry-project/gantry/internal/upstream"
)

// Recorder watches completed dispatches and emits an event for every
// denied call. Allowed calls are not persisted; metrics cover those.
type Recorder struct {
	writer *Writer
}

var _ session.Recorder = (*Recorder)(nil)

// NewRecorder returns the session-side audit hook.
func NewRecorder(w *Writer) *Recorder {
	return &Recorder{writer: w}
}

func (r *Recorder) RecordCall(ctx context.Context, rec session.CallRecord) {
	if rec.Err == nil || faults.KindOf(rec.Err) != faults.KindUnauthorized {
		return
	}

	resource, action := splitMethod(rec.Method)
	r.writer.Emit(&Event{
		EventType: EventAuthzDenied,
		Severity:  SeverityWarning,
		Subject:   rec.Subject,
		Resource:  resource,
		Action:    action,
		Details: Details{
			"session_id":  rec.SessionID,
			"client":      rec.ClientName,
			"method":      rec.Method,
			"reason":      rec.Err.Error(),
			"duration_ms": rec.Duration.Milliseconds(),
		},
	})
}

// UpstreamAuditor records tracker calls that failed past the retry budget.
type UpstreamAuditor struct {
	writer *Writer
}

var _ upstream.Auditor = (*UpstreamAuditor)(nil)

// NewUpstreamAuditor returns the client-side audit hook.
func NewUpstreamAuditor(w *Writer) *UpstreamAuditor {
	return &UpstreamAuditor{writer: w}
}

func (a *UpstreamAuditor) UpstreamFailure(ctx context.Context, operation string, status int, message string) {
	a.writer.Emit(&Event{
		EventType: EventUpstreamFailure,
		Severity:  SeverityError,
		Resource:  "upstream",
		Action:    operation,
		Details: Details{
			"status":  status,
			"message": message,
		},
	})
}
