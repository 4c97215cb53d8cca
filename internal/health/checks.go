package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gantry-project/gantry/internal/upstream"
)

// Pinger reports the reachability of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UpstreamCheck probes the tracker budget without spending a request. An
// exhausted budget degrades the service rather than failing it, matching
// the client's wait-or-shed policy.
func UpstreamCheck(client *upstream.Client) CheckFunc {
	return func(ctx context.Context) CheckResult {
		state := client.RateLimit()
		details := map[string]interface{}{
			"remaining":   state.Remaining,
			"hourlyQuota": state.HourlyQuota,
			"permits":     state.ConcurrencyPermits,
		}
		if !state.ResetAt.IsZero() {
			details["resetAt"] = state.ResetAt.UTC().Format(time.RFC3339)
		}

		if state.HourlyQuota > 0 && state.Remaining <= 0 && time.Now().Before(state.ResetAt) {
			wait := time.Until(state.ResetAt).Round(time.Second)
			result := Degraded(fmt.Sprintf("upstream budget exhausted, resets in %s", wait))
			result.Details = details
			return result
		}

		result := Healthy("upstream budget available")
		result.Details = details
		return result
	}
}

// RedisCheck pings the rate-limit store.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if err := client.Ping(ctx).Err(); err != nil {
			return Unhealthy(err)
		}
		result := Healthy("redis reachable")
		result.Details = map[string]interface{}{
			"latencyMs": time.Since(start).Milliseconds(),
		}
		return result
	}
}

// DatabaseCheck probes the audit store.
func DatabaseCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			return Unhealthy(err)
		}
		result := Healthy("database reachable")
		result.Details = map[string]interface{}{
			"latencyMs": time.Since(start).Milliseconds(),
		}
		return result
	}
}
