package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Healthz serves the full report. Degraded still answers 200 so load
// balancers keep routing while operators see the warning in the body.
func (m *Manager) Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := m.Check(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			m.logger.Error("encode health report", zap.Error(err))
		}
	})
}

// Readyz reports whether the service should receive traffic.
func (m *Manager) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := m.Check(r.Context())
		ready := report.Status != StatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		body := map[string]interface{}{
			"ready":  ready,
			"status": report.Status.String(),
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			m.logger.Error("encode readiness response", zap.Error(err))
		}
	})
}
