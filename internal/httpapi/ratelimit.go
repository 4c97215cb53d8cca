package httpapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/metrics"
)

const (
	defaultRequestsPerMinute = 60
	localBurst               = 10
	localSweepThreshold      = 4096
	localIdleTTL             = 10 * time.Minute
)

// RateLimiter throttles connection attempts per client. With Redis
// configured it counts a fixed one-minute window shared across replicas and
// fails open on Redis errors; without Redis it falls back to per-process
// token buckets.
type RateLimiter struct {
	redis     *redis.Client
	perMinute int
	logger    *zap.Logger

	mu      sync.Mutex
	local   map[string]*localEntry
	nowFunc func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from config; nil when disabled.
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	rl := &RateLimiter{
		perMinute: perMinute,
		logger:    logger.Named("ratelimit"),
		local:     make(map[string]*localEntry),
		nowFunc:   time.Now,
	}
	if cfg.RedisAddr != "" {
		rl.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return rl
}

// Middleware enforces the limit before the wrapped handler runs and stamps
// X-RateLimit-* headers either way.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		allowed, remaining, resetAt := rl.check(r, key)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.perMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", key),
				zap.String("path", r.URL.Path))
			retry := int(time.Until(resetAt).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate limit exceeded",
				"message": "too many connection attempts, retry after the window resets",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Redis exposes the shared client for health probes. Nil when the limiter
// runs on the local fallback only.
func (rl *RateLimiter) Redis() *redis.Client {
	if rl == nil {
		return nil
	}
	return rl.redis
}

// Close releases the Redis connection when one was opened.
func (rl *RateLimiter) Close() error {
	if rl.redis != nil {
		return rl.redis.Close()
	}
	return nil
}

func (rl *RateLimiter) check(r *http.Request, key string) (allowed bool, remaining int, resetAt time.Time) {
	if rl.redis != nil {
		return rl.checkRedis(r, key)
	}
	return rl.checkLocal(key)
}

// checkRedis counts the client's hits in the current minute window with
// INCR+EXPIRE. Redis failures admit the request.
func (rl *RateLimiter) checkRedis(r *http.Request, key string) (bool, int, time.Time) {
	now := rl.nowFunc()
	window := now.Truncate(time.Minute)
	resetAt := window.Add(time.Minute)
	windowKey := fmt.Sprintf("gantry:ratelimit:%s:%d", key, window.Unix())

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(r.Context(), windowKey)
	pipe.Expire(r.Context(), windowKey, time.Minute+time.Second)
	if _, err := pipe.Exec(r.Context()); err != nil {
		rl.logger.Error("Rate limit check failed, admitting request", zap.Error(err))
		return true, rl.perMinute, resetAt
	}

	count := int(incr.Val())
	remaining := rl.perMinute - count
	if remaining < 0 {
		remaining = 0
	}
	if count > rl.perMinute {
		metrics.RateLimitRejections.WithLabelValues("redis").Inc()
		return false, remaining, resetAt
	}
	return true, remaining, resetAt
}

func (rl *RateLimiter) checkLocal(key string) (bool, int, time.Time) {
	now := rl.nowFunc()
	rl.mu.Lock()
	entry, ok := rl.local[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(rl.perMinute)/60, localBurst)}
		rl.local[key] = entry
	}
	entry.lastSeen = now
	if len(rl.local) > localSweepThreshold {
		rl.sweepLocked(now)
	}
	rl.mu.Unlock()

	if !entry.limiter.Allow() {
		metrics.RateLimitRejections.WithLabelValues("local").Inc()
		return false, 0, now.Add(time.Minute)
	}
	remaining := int(entry.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, now.Add(time.Minute)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range rl.local {
		if now.Sub(entry.lastSeen) > localIdleTTL {
			delete(rl.local, key)
		}
	}
}

// clientKey identifies the caller: explicit credentials when presented,
// otherwise the remote host.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if h := r.Header.Get("Authorization"); h != "" {
		return "key:" + strings.TrimPrefix(h, "Bearer ")
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
