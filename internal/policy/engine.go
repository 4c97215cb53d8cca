// Package policy evaluates OPA rego policies over session dispatches. The
// decision document is data.gantry.session.decision: {"allow": bool,
// "reason": string}, judged per subject, client, team set and method.
package policy

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/metrics"
)

// Mode is the enforcement posture.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeDryRun  Mode = "dry-run"
	ModeEnforce Mode = "enforce"
)

const decisionQuery = "data.gantry.session.decision"

// Input is the document one dispatch is judged on.
type Input struct {
	SessionID   string    `json:"session_id"`
	Subject     string    `json:"subject"`
	Client      string    `json:"client"`
	Teams       []string  `json:"teams,omitempty"`
	Method      string    `json:"method"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision is the policy verdict.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine compiles the rego modules under the configured path and answers
// Evaluate calls, caching recent decisions.
type Engine struct {
	cfg      config.PolicyConfig
	logger   *zap.Logger
	compiled *rego.PreparedEvalQuery
	enabled  bool
	cache    *decisionCache
}

// NewEngine loads and compiles policies. With fail_closed unset, a load
// failure degrades to an allow-everything engine instead of refusing to
// start.
func NewEngine(cfg config.PolicyConfig, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		enabled: cfg.Enabled && Mode(cfg.Mode) != ModeOff,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}
	if e.enabled {
		if err := e.LoadPolicies(); err != nil {
			if cfg.FailClosed {
				return nil, fmt.Errorf("load policies in fail-closed mode: %w", err)
			}
			logger.Warn("Policy load failed, running fail-open", zap.Error(err))
			e.enabled = false
		}
	}
	return e, nil
}

// LoadPolicies compiles every .rego file under the configured directory.
func (e *Engine) LoadPolicies() error {
	if !e.cfg.Enabled {
		return nil
	}

	modules := make(map[string]string)
	err := filepath.Walk(e.cfg.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		relPath, _ := filepath.Rel(e.cfg.Path, path)
		modules[strings.TrimSuffix(relPath, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk policy directory: %w", err)
	}
	if len(modules) == 0 {
		if e.cfg.FailClosed {
			return fmt.Errorf("no policies found under %s in fail-closed mode", e.cfg.Path)
		}
		e.logger.Warn("No policy files found", zap.String("path", e.cfg.Path))
		return nil
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}
	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}
	e.compiled = &compiled
	e.cache.Clear()

	e.logger.Info("Policies compiled",
		zap.Int("modules", len(modules)),
		zap.String("query", decisionQuery))
	return nil
}

// IsEnabled reports whether the engine has compiled policies to apply.
func (e *Engine) IsEnabled() bool { return e.enabled && e.compiled != nil }

// Mode returns the configured enforcement mode.
func (e *Engine) Mode() Mode { return Mode(e.cfg.Mode) }

// Environment returns the environment tag stamped on every input.
func (e *Engine) Environment() string { return e.cfg.Environment }

// Evaluate judges one dispatch. The returned decision is never nil; an
// evaluation error surfaces alongside the fail-open or fail-closed verdict.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	if !e.IsEnabled() {
		return &Decision{
			Allow:  !e.cfg.FailClosed,
			Reason: "policy engine disabled",
		}, nil
	}

	if d, ok := e.cache.Get(input); ok {
		metrics.PolicyDecisions.WithLabelValues(decisionLabel(d.Allow), e.cfg.Mode).Inc()
		return d, nil
	}

	inputMap, err := toMap(input)
	if err != nil {
		return e.evalFailure(fmt.Errorf("convert policy input: %w", err))
	}
	results, err := e.compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return e.evalFailure(fmt.Errorf("evaluate policy: %w", err))
	}

	decision := parseResults(results)
	decision = e.applyMode(decision, input)

	metrics.PolicyDecisions.WithLabelValues(decisionLabel(decision.Allow), e.cfg.Mode).Inc()
	e.cache.Set(input, decision)
	return decision, nil
}

// evalFailure resolves an evaluation error by posture: closed denies, open
// allows, and both carry the error up for logging.
func (e *Engine) evalFailure(err error) (*Decision, error) {
	e.logger.Error("Policy evaluation failed", zap.Error(err))
	if e.cfg.FailClosed {
		return &Decision{Allow: false, Reason: "policy evaluation error"}, err
	}
	return &Decision{Allow: true, Reason: "policy evaluation error (fail-open)"}, err
}

// applyMode turns denials into annotated allows under dry-run.
func (e *Engine) applyMode(decision *Decision, input *Input) *Decision {
	if Mode(e.cfg.Mode) != ModeDryRun {
		return decision
	}
	if !decision.Allow {
		e.logger.Info("Dry-run would deny",
			zap.String("subject", input.Subject),
			zap.String("client", input.Client),
			zap.String("method", input.Method),
			zap.String("reason", decision.Reason))
		return &Decision{
			Allow:  true,
			Reason: fmt.Sprintf("DRY-RUN: would have been denied - %s", decision.Reason),
		}
	}
	return &Decision{
		Allow:  true,
		Reason: fmt.Sprintf("DRY-RUN: would have been allowed - %s", decision.Reason),
	}
}

func toMap(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseResults reads the decision document. Anything unrecognized stays a
// deny.
func parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}
	switch value := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := value["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := value["reason"].(string); ok {
			decision.Reason = reason
		}
	case bool:
		decision.Allow = value
		if value {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

func decisionLabel(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}

// decisionCache is a small LRU with TTL over (subject, client, teams,
// method, environment). Timestamps stay out of the key so repeat dispatches
// hit.
type decisionCache struct {
	cap    int
	ttl    time.Duration
	mu     sync.Mutex
	list   *list.List               // MRU at front
	m      map[string]*list.Element // key -> element
	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *Input) string {
	return strings.Join([]string{
		input.Environment, input.Subject, input.Client,
		strings.Join(input.Teams, ","), input.Method,
	}, "|")
}

func (c *decisionCache) Get(input *Input) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

func (c *decisionCache) Set(input *Input, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			ce := lru.Value.(cacheEntry)
			delete(c.m, ce.key)
			c.list.Remove(lru)
		}
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}

// Stats returns cumulative hit and miss counts.
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
