// Package upstream executes GraphQL documents against the tracker API with
// bounded concurrency, budget accounting, and retry with full jitter.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gantry-project/gantry/internal/circuitbreaker"
	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/tracing"
)

const maxResponseBytes = 10 << 20

// Auditor receives non-retryable upstream failures. Implementations must
// not block.
type Auditor interface {
	UpstreamFailure(ctx context.Context, operation string, status int, message string)
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// Client is the single upstream GraphQL client shared by all resource
// clients and the search engine.
type Client struct {
	endpoint   string
	authHeader string
	httpClient *http.Client
	sem        *semaphore.Weighted
	permits    int
	rate       *rateState
	breaker    *circuitbreaker.Breaker
	maxRetries int
	retryDelay time.Duration
	auditor    Auditor
	logger     *zap.Logger
}

// Option configures optional client collaborators.
type Option func(*Client)

// WithAuditor wires the audit sink for non-retryable failures.
func WithAuditor(a Auditor) Option {
	return func(c *Client) { c.auditor = a }
}

// WithHTTPClient replaces the transport, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client from the upstream configuration.
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger, opts ...Option) *Client {
	permits := cfg.ConcurrentRequests
	if permits <= 0 {
		permits = 10
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	c := &Client{
		endpoint:   cfg.Endpoint,
		authHeader: cfg.AuthHeader(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(int64(permits)),
		permits:    permits,
		rate:       newRateState(cfg.RateLimitPerHour),
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}

	if cfg.CircuitBreaker.Enabled {
		bc := circuitbreaker.Config{
			MaxRequests:      uint32(cfg.CircuitBreaker.MaxRequests),
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			FailureThreshold: uint32(cfg.CircuitBreaker.FailureThreshold),
			SuccessThreshold: uint32(cfg.CircuitBreaker.SuccessThreshold),
			IsFailure:        faults.Retryable,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.CircuitBreakerState.Set(float64(to))
				if to == circuitbreaker.StateOpen {
					metrics.CircuitBreakerTrips.Inc()
				}
			},
		}
		c.breaker = circuitbreaker.New("upstream", bc, logger)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute sends one GraphQL document and returns the data payload.
// Transport failures and 5xx responses are retried with exponential backoff
// and full jitter; everything else surfaces immediately.
func (c *Client) Execute(ctx context.Context, doc string, vars map[string]interface{}) (json.RawMessage, error) {
	op := operationName(doc)
	ctx, span := tracing.StartUpstreamSpan(ctx, op, c.endpoint)
	defer span.End()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, faults.FromContext(ctx)
	}
	defer c.sem.Release(1)

	metrics.UpstreamInFlight.Inc()
	defer metrics.UpstreamInFlight.Dec()

	body, err := json.Marshal(graphQLRequest{Query: doc, Variables: vars})
	if err != nil {
		return nil, faults.Internal(fmt.Errorf("marshal request: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.jitter(attempt)
			metrics.UpstreamRetries.Inc()
			c.logger.Warn("Retrying upstream request",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, faults.FromContext(ctx)
			case <-time.After(delay):
			}
		}

		if err := c.rate.wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		data, err := c.doRequest(ctx, body)
		metrics.RecordUpstreamMetrics(op, statusLabel(err), time.Since(start).Seconds())
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !faults.Retryable(err) {
			c.recordFailure(ctx, op, err)
			return nil, err
		}
	}

	c.logger.Error("Upstream request failed after retries",
		zap.String("operation", op),
		zap.Int("retries", c.maxRetries),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// ExecuteInto runs Execute and decodes the data payload into out.
func (c *Client) ExecuteInto(ctx context.Context, doc string, vars map[string]interface{}, out interface{}) error {
	data, err := c.Execute(ctx, doc, vars)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode upstream data: %w", err)
	}
	return nil
}

// RateLimit snapshots the budget state for health checks and stats.
func (c *Client) RateLimit() RateLimitState {
	return c.rate.snapshot(c.permits)
}

// doRequest performs exactly one HTTP round trip, classified into the fault
// taxonomy. The circuit breaker sees only transient failures.
func (c *Client) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	var data json.RawMessage
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return faults.Internal(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.authHeader)
		tracing.InjectTraceparent(ctx, req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return faults.FromContext(ctx)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return faults.Timeout("upstream request timed out after %s", c.httpClient.Timeout)
			}
			return faults.Transport(err)
		}
		defer resp.Body.Close()

		c.rate.update(resp.Header)

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return faults.Transport(err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return faults.Unauthorized("upstream rejected credentials")
		case resp.StatusCode == http.StatusNotFound:
			return &faults.Fault{Kind: faults.KindNotFound, Message: "upstream endpoint not found"}
		case resp.StatusCode == http.StatusTooManyRequests:
			// Budget state was just refreshed from headers; retry after jitter.
			return &faults.Fault{Kind: faults.KindUpstream, Status: resp.StatusCode, Transient: true,
				Message: "upstream throttled the request"}
		case resp.StatusCode != http.StatusOK:
			return faults.Upstream(resp.StatusCode, "upstream returned %d: %s", resp.StatusCode, snippet(respBody))
		}

		var gql graphQLResponse
		if err := json.Unmarshal(respBody, &gql); err != nil {
			return faults.Upstream(resp.StatusCode, "malformed upstream response: %v", err)
		}
		if len(gql.Errors) > 0 {
			msgs := make([]string, len(gql.Errors))
			for i, e := range gql.Errors {
				msgs[i] = e.Message
			}
			return faults.Upstream(resp.StatusCode, "graphql errors: %s", strings.Join(msgs, "; "))
		}

		data = gql.Data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, attempt)
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			err = &faults.Fault{Kind: faults.KindUpstream, Message: "upstream circuit breaker open", Err: err}
		}
	} else {
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// jitter samples uniformly from [0, retryDelay * 2^(attempt-1)].
func (c *Client) jitter(attempt int) time.Duration {
	ceil := c.retryDelay << uint(attempt-1)
	if ceil <= 0 {
		ceil = c.retryDelay
	}
	return time.Duration(rand.Int63n(int64(ceil) + 1))
}

func (c *Client) recordFailure(ctx context.Context, op string, err error) {
	kind := faults.KindOf(err)
	if kind == faults.KindCancelled {
		return
	}
	if c.auditor != nil {
		var status int
		var f *faults.Fault
		if errors.As(err, &f) {
			status = f.Status
		}
		c.auditor.UpstreamFailure(ctx, op, status, err.Error())
	}
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(faults.KindOf(err).String())
}

// operationName extracts the document's operation name for metrics and
// spans.
func operationName(doc string) string {
	s := strings.TrimSpace(doc)
	for _, kw := range []string{"query", "mutation"} {
		if !strings.HasPrefix(s, kw) {
			continue
		}
		rest := strings.TrimLeft(s[len(kw):], " \t\n")
		end := strings.IndexAny(rest, " ({\n\t")
		if end > 0 {
			return rest[:end]
		}
	}
	return "anonymous"
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
