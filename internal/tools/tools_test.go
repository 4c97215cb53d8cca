package tools

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/cache"
	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/featurelist"
	"github.com/gantry-project/gantry/internal/optimize"
	"github.com/gantry-project/gantry/internal/query"
	"github.com/gantry-project/gantry/internal/resources"
	"github.com/gantry-project/gantry/internal/search"
	"github.com/gantry-project/gantry/internal/upstream"
)

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type testDeps struct {
	svc    *resources.Service
	engine *search.Engine
	opt    *optimize.Optimizer
	conv   *featurelist.Converter
}

func newTestDeps(t *testing.T, handler http.HandlerFunc) *testDeps {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	client := upstream.NewClient(config.UpstreamConfig{
		Endpoint:           srv.URL,
		Timeout:            5 * time.Second,
		MaxRetries:         1,
		RetryDelay:         time.Millisecond,
		RateLimitPerHour:   1000,
		ConcurrentRequests: 8,
		AuthType:           "apiKey",
		APIKey:             "lin_api_test",
	}, logger)

	scfg := config.SearchConfig{
		Timeout:      5 * time.Second,
		DefaultLimit: 50,
		Cache:        config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 100, MinAccessCount: 2},
		Optimizer:    config.OptimizerConfig{Enabled: true},
	}
	builder := query.NewBuilder(logger)
	store := cache.New(scfg.Cache, logger)
	svc := resources.NewService(client, logger)

	return &testDeps{
		svc:    svc,
		engine: search.New(client, builder, store, scfg, logger),
		opt:    optimize.New(optimize.OptionsFromConfig(scfg.Optimizer), logger),
		conv:   featurelist.NewConverter(svc, logger),
	}
}

func decodeRequest(t *testing.T, r *http.Request) gqlRequest {
	t.Helper()
	var req gqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func queriesFor(q, queryName string) bool {
	return strings.Contains(q, "  "+queryName+"(")
}

func connJSON(queryName string, total int, nodes ...string) string {
	return fmt.Sprintf(`{"data":{%q:{"nodes":[%s],"pageInfo":{"hasNextPage":false,"endCursor":""},"totalCount":%d}}}`,
		queryName, strings.Join(nodes, ","), total)
}

func issueJSON(id, identifier, title string) string {
	return fmt.Sprintf(`{"id":%q,"identifier":%q,"title":%q,"url":"https://tracker.test/%s","priority":2,`+
		`"state":{"id":"st_1","name":"Todo","type":"unstarted"},"team":{"id":"team_1","name":"Engineering","key":"ENG"},`+
		`"createdAt":"2024-03-01T10:00:00Z","updatedAt":"2024-03-02T09:30:00Z"}`,
		id, identifier, title, identifier)
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
