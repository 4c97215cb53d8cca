// Package search implements the unified search operation: resolve the query,
// consult the result cache, fan out one upstream sub-query per resource type,
// then merge, sort, and truncate the projected hits.
package search

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gantry-project/gantry/internal/cache"
	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/query"
	"github.com/gantry-project/gantry/internal/upstream"
)

const defaultTimeout = 30 * time.Second

// Engine coordinates the per-type sub-searches behind the public Search
// operation. One instance serves all sessions.
type Engine struct {
	client       *upstream.Client
	builder      *query.Builder
	store        *cache.Store
	logger       *zap.Logger
	timeout      time.Duration
	defaultLimit int
}

// New builds the engine. The store is shared with the invalidation path:
// pass the same instance the event bus feeds through OnResourceChanged.
func New(client *upstream.Client, builder *query.Builder, store *cache.Store, cfg config.SearchConfig, logger *zap.Logger) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.DefaultLimit
	if limit < 1 || limit > 100 {
		limit = query.DefaultLimit
	}
	return &Engine{
		client:       client,
		builder:      builder,
		store:        store,
		logger:       logger,
		timeout:      timeout,
		defaultLimit: limit,
	}
}

// SearchText parses the compact DSL and runs the resulting query.
func (e *Engine) SearchText(ctx context.Context, input string) (*models.SearchResponse, error) {
	q, err := query.Parse(input)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, q)
}

// subResponse is one resource type's contribution before the merge.
type subResponse struct {
	results []models.SearchResult
	total   int
	hasMore bool
	cursor  string
}

// Search runs the fan-out pipeline. Sub-queries share one deadline; the
// first failure cancels the rest. Responses are cached by canonical query
// hash, and cache hits come back as clones flagged cacheHit.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if q.Limit == 0 {
		q.Limit = e.defaultLimit
	}
	if len(q.ResourceTypes) == 0 {
		q.ResourceTypes = models.AllResourceTypes()
	}
	if err := e.builder.Validate(q); err != nil {
		return nil, err
	}

	if cached := e.store.Get(q); cached != nil {
		out := cached.Clone()
		out.CacheHit = true
		metrics.RecordSearchMetrics("cached", 0, 0)
		return out, nil
	}

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	subs := make([]*subResponse, len(q.ResourceTypes))
	g, gctx := errgroup.WithContext(sctx)
	for i, rt := range q.ResourceTypes {
		i, rt := i, rt
		g.Go(func() error {
			sub, err := e.searchType(gctx, rt, q)
			if err != nil {
				return err
			}
			subs[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = faults.Timeout("search timed out after %s", e.timeout)
		}
		metrics.RecordSearchMetrics(statusLabel(err), len(q.ResourceTypes), time.Since(start).Seconds())
		return nil, err
	}

	resp := &models.SearchResponse{}
	for i, sub := range subs {
		resp.Results = append(resp.Results, sub.results...)
		resp.TotalCount += sub.total
		if sub.hasMore {
			resp.HasMore = true
		}
		if sub.cursor != "" {
			if resp.PageCursors == nil {
				resp.PageCursors = make(map[models.ResourceType]string)
			}
			resp.PageCursors[q.ResourceTypes[i]] = sub.cursor
		}
	}

	if q.Sort != nil {
		sortResults(resp.Results, q.Sort)
	}
	if len(resp.Results) > q.Limit {
		resp.Results = resp.Results[:q.Limit]
		resp.HasMore = true
	}
	resp.ExecutionTime = time.Since(start).Milliseconds()

	if err := e.store.Put(q, resp.Clone()); err != nil {
		e.logger.Warn("Failed to cache search response", zap.Error(err))
	}
	metrics.RecordSearchMetrics("ok", len(q.ResourceTypes), time.Since(start).Seconds())
	e.logger.Debug("Search complete",
		zap.Int("results", len(resp.Results)),
		zap.Int("total_count", resp.TotalCount),
		zap.Bool("has_more", resp.HasMore),
		zap.Int64("execution_ms", resp.ExecutionTime),
	)
	return resp, nil
}

// searchType runs one resource type's sub-query and projects the nodes.
func (e *Engine) searchType(ctx context.Context, rt models.ResourceType, q *models.SearchQuery) (*subResponse, error) {
	tq := *q
	if !q.IncludeArchived {
		if excl := e.builder.ArchivedExclusions(rt); len(excl) > 0 {
			tq.Conditions = append(append([]models.Condition(nil), q.Conditions...), excl...)
		}
	}

	doc, vars, err := e.builder.BuildSearch(rt, &tq, q.Cursor)
	if err != nil {
		return nil, err
	}
	data, err := e.client.Execute(ctx, doc, vars)
	if err != nil {
		return nil, err
	}

	queryName, err := e.builder.QueryName(rt)
	if err != nil {
		return nil, err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, faults.Upstream(0, "malformed search data for %s: %v", rt, err)
	}
	raw, ok := payload[queryName]
	if !ok || string(raw) == "null" {
		return nil, faults.Upstream(0, "missing %q in upstream response", queryName)
	}
	var conn upstream.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, faults.Upstream(0, "decode %s connection: %v", rt, err)
	}

	sub := &subResponse{
		results: make([]models.SearchResult, 0, len(conn.Nodes)),
		total:   conn.TotalCount,
		hasMore: conn.PageInfo.HasNextPage,
	}
	if conn.PageInfo.HasNextPage {
		sub.cursor = conn.PageInfo.EndCursor
	}
	for _, node := range conn.Nodes {
		r, err := projectNode(rt, node)
		if err != nil {
			return nil, err
		}
		sub.results = append(sub.results, r)
	}
	return sub, nil
}

// OnResourceChanged drops cached responses that cover the mutated type. The
// event bus calls this for every published resource change.
func (e *Engine) OnResourceChanged(rt models.ResourceType, action, id string) {
	removed := e.store.Invalidate(rt)
	if removed > 0 {
		e.logger.Debug("Search cache invalidated",
			zap.String("resource_type", string(rt)),
			zap.String("action", action),
			zap.Int("entries", removed),
		)
	}
}

// CacheStats exposes the result cache snapshot for the stats surface.
func (e *Engine) CacheStats() cache.Stats {
	return e.store.Stats()
}

func statusLabel(err error) string {
	switch faults.KindOf(err) {
	case faults.KindTimeout:
		return "timeout"
	case faults.KindCancelled:
		return "cancelled"
	case faults.KindRateLimited:
		return "rate_limited"
	case faults.KindValidation:
		return "invalid"
	default:
		return "error"
	}
}
