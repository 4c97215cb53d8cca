// Package health aggregates named dependency probes into an overall service
// status served on the admin endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/metrics"
)

// CheckStatus classifies the outcome of a probe.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is the outcome of a single probe. Critical and DurationMs are
// stamped by the manager; probes fill the rest.
type CheckResult struct {
	Status     CheckStatus            `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Critical   bool                   `json:"critical"`
	DurationMs int64                  `json:"durationMs"`
}

// Healthy builds a passing result.
func Healthy(message string) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: message}
}

// Degraded builds a result for a dependency that answers but cannot be
// relied on at full capacity.
func Degraded(message string) CheckResult {
	return CheckResult{Status: StatusDegraded, Message: message}
}

// Unhealthy builds a failing result from a probe error.
func Unhealthy(err error) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
}

// CheckFunc probes one dependency. The context carries the per-check
// timeout; probes must return once it is done.
type CheckFunc func(ctx context.Context) CheckResult

// defaultTimeout bounds a single probe unless overridden at registration.
const defaultTimeout = 5 * time.Second

type check struct {
	fn       CheckFunc
	critical bool
	timeout  time.Duration
}

// CheckOption adjusts how a registered check runs.
type CheckOption func(*check)

// Critical marks a check whose failure makes the whole service unhealthy
// instead of degraded.
func Critical() CheckOption {
	return func(c *check) { c.critical = true }
}

// WithTimeout overrides the per-probe timeout.
func WithTimeout(d time.Duration) CheckOption {
	return func(c *check) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Manager runs registered checks on demand and folds their results into an
// overall status.
type Manager struct {
	mu     sync.RWMutex
	checks map[string]*check
	logger *zap.Logger
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checks: make(map[string]*check),
		logger: logger,
	}
}

// Register adds a named probe. Registering the same name again replaces the
// earlier probe.
func (m *Manager) Register(name string, fn CheckFunc, opts ...CheckOption) {
	c := &check{fn: fn, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}

	m.mu.Lock()
	m.checks[name] = c
	m.mu.Unlock()

	m.logger.Debug("health check registered",
		zap.String("check", name),
		zap.Bool("critical", c.critical),
		zap.Duration("timeout", c.timeout),
	)
}

// Report is the aggregate of one pass over all registered checks.
type Report struct {
	Status    CheckStatus            `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Check runs every registered probe concurrently, each under its own
// timeout. A failing critical check makes the service unhealthy; any other
// failure or degradation makes it degraded.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checks := make(map[string]*check, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}
	if len(checks) == 0 {
		report.Message = "no checks registered"
		return report
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, c := range checks {
		wg.Add(1)
		go func(name string, c *check) {
			defer wg.Done()
			result := m.run(ctx, name, c)
			mu.Lock()
			report.Checks[name] = result
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	criticalFailures := 0
	impaired := 0
	for name, result := range report.Checks {
		metrics.HealthCheckStatus.WithLabelValues(name).Set(float64(result.Status))
		switch result.Status {
		case StatusUnhealthy:
			if result.Critical {
				criticalFailures++
			} else {
				impaired++
			}
		case StatusDegraded:
			impaired++
		}
	}

	switch {
	case criticalFailures > 0:
		report.Status = StatusUnhealthy
		report.Message = fmt.Sprintf("%d critical check(s) failing", criticalFailures)
	case impaired > 0:
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("%d check(s) impaired", impaired)
	default:
		report.Message = fmt.Sprintf("all %d checks healthy", len(report.Checks))
	}
	return report
}

func (m *Manager) run(ctx context.Context, name string, c *check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := c.fn(ctx)
	result.Critical = c.critical
	result.DurationMs = time.Since(start).Milliseconds()

	if result.Status != StatusHealthy {
		m.logger.Warn("health check not passing",
			zap.String("check", name),
			zap.String("status", result.Status.String()),
			zap.String("message", result.Message),
		)
	}
	return result
}
