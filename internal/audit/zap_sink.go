package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink writes events to the structured log. It is the default sink when
// no database driver is configured.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink logging under the "audit" subsystem.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Write(_ context.Context, e *Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID.String()),
		zap.String("event_type", e.EventType),
		zap.String("severity", e.Severity),
		zap.String("subject", e.Subject),
		zap.String("resource", e.Resource),
		zap.String("action", e.Action),
		zap.Time("timestamp", e.Timestamp),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", map[string]interface{}(e.Details)))
	}

	switch e.Severity {
	case SeverityError:
		s.logger.Error("Audit event", fields...)
	case SeverityWarning:
		s.logger.Warn("Audit event", fields...)
	default:
		s.logger.Info("Audit event", fields...)
	}
	return nil
}

func (s *ZapSink) Close() error {
	return nil
}
