package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// sqlite gets its schema created on open; postgres schemas are managed by
// migrations outside the server.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id         TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity   TEXT NOT NULL,
    subject    TEXT NOT NULL,
    resource   TEXT NOT NULL,
    action     TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    details    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject);
`

const insertEvent = `
INSERT INTO audit_events (
    id, event_type, severity, subject, resource, action, timestamp, details
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// DBSink persists events to postgres or sqlite through sqlx. The insert is
// written with ? placeholders and rebound per driver.
type DBSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDBSink opens the audit database and, for sqlite, bootstraps the schema.
func NewDBSink(driver, dsn string, logger *zap.Logger) (*DBSink, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if driver == "sqlite3" {
		if _, err := db.Exec(sqliteSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap audit schema: %w", err)
		}
	}

	logger.Info("Audit database opened",
		zap.String("driver", driver),
	)
	return &DBSink{db: db, logger: logger}, nil
}

func (s *DBSink) Write(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertEvent),
		e.ID.String(), e.EventType, e.Severity,
		e.Subject, e.Resource, e.Action,
		e.Timestamp.UTC(), e.Details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Ping reports database reachability for health checks.
func (s *DBSink) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *DBSink) Close() error {
	return s.db.Close()
}
