package upstream

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/metrics"
)

// sleepThreshold is the longest the client will wait for a budget reset
// before failing fast with RateLimited.
const sleepThreshold = 60 * time.Second

// RateLimitState is a point-in-time snapshot of the client's budget.
type RateLimitState struct {
	Remaining          int       `json:"remaining"`
	ResetAt            time.Time `json:"resetAt"`
	HourlyQuota        int       `json:"hourlyQuota"`
	ConcurrencyPermits int       `json:"concurrencyPermits"`
}

// rateState tracks the upstream budget. The response headers are the source
// of truth; local decrements only bridge the gap between responses.
type rateState struct {
	mu          sync.Mutex
	remaining   int
	resetAt     time.Time
	hourlyQuota int
}

func newRateState(hourlyQuota int) *rateState {
	return &rateState{
		remaining:   hourlyQuota,
		hourlyQuota: hourlyQuota,
	}
}

// wait admits one send. When the budget is exhausted it sleeps until the
// reset if that is at most sleepThreshold away, otherwise it fails fast.
func (r *rateState) wait(ctx context.Context) error {
	if r.hourlyQuota <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := time.Now()
		if !r.resetAt.IsZero() && !now.Before(r.resetAt) {
			// Reset passage restores the hourly quota.
			r.remaining = r.hourlyQuota
			r.resetAt = now.Add(time.Hour)
		}
		if r.remaining > 0 {
			r.remaining--
			metrics.UpstreamRateLimitRemaining.Set(float64(r.remaining))
			r.mu.Unlock()
			return nil
		}
		if r.resetAt.IsZero() {
			// Exhausted with no known reset; restore rather than stall.
			r.remaining = r.hourlyQuota
			r.mu.Unlock()
			continue
		}
		wait := r.resetAt.Sub(now)
		r.mu.Unlock()

		if wait > sleepThreshold {
			return faults.RateLimited("rate budget exhausted, resets in %s", wait.Round(time.Second))
		}

		metrics.UpstreamRateLimitWaits.Inc()
		select {
		case <-ctx.Done():
			return faults.FromContext(ctx)
		case <-time.After(wait):
		}
	}
}

// update consumes X-RateLimit-* response headers when present.
func (r *rateState) update(h http.Header) {
	rem := h.Get("X-RateLimit-Remaining")
	rst := h.Get("X-RateLimit-Reset")
	if rem == "" && rst == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rem != "" {
		if v, err := strconv.Atoi(rem); err == nil && v >= 0 {
			r.remaining = v
			metrics.UpstreamRateLimitRemaining.Set(float64(v))
		}
	}
	if rst != "" {
		if t, ok := parseReset(rst); ok {
			r.resetAt = t
		}
	}
}

func (r *rateState) snapshot(permits int) RateLimitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimitState{
		Remaining:          r.remaining,
		ResetAt:            r.resetAt,
		HourlyQuota:        r.hourlyQuota,
		ConcurrencyPermits: permits,
	}
}

// parseReset accepts epoch seconds, epoch milliseconds, or a delta in
// seconds, which covers the header variants seen across trackers.
func parseReset(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	switch {
	case n > 1_000_000_000_000:
		return time.UnixMilli(n), true
	case n > 1_000_000_000:
		return time.Unix(n, 0), true
	default:
		return time.Now().Add(time.Duration(n) * time.Second), true
	}
}
