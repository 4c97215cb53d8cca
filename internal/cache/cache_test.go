package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/models"
)

func newTestStore(t *testing.T, cfg config.CacheConfig) *Store {
	t.Helper()
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100
	}
	cfg.Enabled = true
	return New(cfg, zaptest.NewLogger(t))
}

func issueQuery(text string) *models.SearchQuery {
	return &models.SearchQuery{
		Text:          text,
		ResourceTypes: []models.ResourceType{models.ResourceIssue},
		Limit:         50,
	}
}

func response(n int) *models.SearchResponse {
	resp := &models.SearchResponse{TotalCount: n}
	for i := 0; i < n; i++ {
		resp.Results = append(resp.Results, models.SearchResult{
			ID:           fmt.Sprintf("id-%d", i),
			ResourceType: models.ResourceIssue,
			Title:        fmt.Sprintf("result %d", i),
		})
	}
	return resp
}

func TestKeyCanonicalizes(t *testing.T) {
	a := &models.SearchQuery{
		Text:          "bug",
		ResourceTypes: []models.ResourceType{models.ResourceIssue},
		Limit:         50,
	}
	b := &models.SearchQuery{
		Limit:         50,
		ResourceTypes: []models.ResourceType{models.ResourceIssue},
		Text:          "bug",
	}
	ka, err := Key(a)
	require.NoError(t, err)
	kb, err := Key(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 64)

	kc, err := Key(issueQuery("other"))
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)
}

func TestGetPutRoundTrip(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{})
	q := issueQuery("bug")

	assert.Nil(t, s.Get(q), "empty store must miss")

	require.NoError(t, s.Put(q, response(3)))
	got := s.Get(q)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TotalCount)
}

func TestGetExpiredRemovesEntry(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{TTL: 300 * time.Second})
	q := issueQuery("bug")
	require.NoError(t, s.Put(q, response(1)))

	// Move the clock past expiry.
	base := time.Now()
	s.now = func() time.Time { return base.Add(301 * time.Second) }

	assert.Nil(t, s.Get(q))
	assert.Equal(t, 0, s.Len(), "expired entry must be removed on lookup")
}

func TestPutTTLOverride(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{TTL: time.Hour})
	q := issueQuery("bug")
	require.NoError(t, s.PutTTL(q, response(1), time.Second))

	base := time.Now()
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.Nil(t, s.Get(q))
}

func TestInvalidateByType(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{})

	issues := issueQuery("a")
	mixed := &models.SearchQuery{
		Text:          "b",
		ResourceTypes: []models.ResourceType{models.ResourceProject, models.ResourceIssue},
		Limit:         50,
	}
	projects := &models.SearchQuery{
		Text:          "c",
		ResourceTypes: []models.ResourceType{models.ResourceProject},
		Limit:         50,
	}
	require.NoError(t, s.Put(issues, response(1)))
	require.NoError(t, s.Put(mixed, response(1)))
	require.NoError(t, s.Put(projects, response(1)))

	// Issue invalidation takes the pure-issue entry and the mixed one.
	removed := s.Invalidate(models.ResourceIssue)
	assert.Equal(t, 2, removed)
	assert.Nil(t, s.Get(issues))
	assert.Nil(t, s.Get(mixed))
	assert.NotNil(t, s.Get(projects))

	st := s.Stats()
	assert.Zero(t, st.PerTypeCounts[models.ResourceIssue], "reverse index must be clean")
}

func TestInvalidateAll(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{})
	require.NoError(t, s.Put(issueQuery("a"), response(1)))
	require.NoError(t, s.Put(issueQuery("b"), response(1)))

	removed := s.Invalidate()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, s.Len())
}

func TestCleanupDropsExpiredFirst(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{MaxSize: 20, TTL: time.Hour})

	base := time.Now()
	s.now = func() time.Time { return base }

	// Ten entries that will be expired by insert time, ten fresh ones.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.PutTTL(issueQuery(fmt.Sprintf("old-%d", i)), response(1), time.Minute))
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(issueQuery(fmt.Sprintf("fresh-%d", i)), response(1)))
	}
	require.Equal(t, 20, s.Len())

	// The store is full; the next insert must clear the expired ten only.
	require.NoError(t, s.Put(issueQuery("trigger"), response(1)))
	assert.Equal(t, 11, s.Len())
	assert.NotNil(t, s.Get(issueQuery("fresh-0")))
	assert.Nil(t, s.Get(issueQuery("old-0")))
}

func TestCleanupDropsRarelyUsedThenLRU(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{MaxSize: 20, TTL: time.Hour, MinAccessCount: 2})

	base := time.Now()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put(issueQuery(fmt.Sprintf("q-%d", i)), response(1)))
	}
	// Touch the first five twice so they survive the frequency stage.
	for i := 0; i < 5; i++ {
		for j := 0; j < 2; j++ {
			require.NotNil(t, s.Get(issueQuery(fmt.Sprintf("q-%d", i))))
		}
	}

	require.NoError(t, s.Put(issueQuery("trigger"), response(1)))

	for i := 0; i < 5; i++ {
		assert.NotNil(t, s.Get(issueQuery(fmt.Sprintf("q-%d", i))), "hot entry q-%d must survive", i)
	}
	assert.Nil(t, s.Get(issueQuery("q-10")), "cold entry must be evicted")
	assert.NotNil(t, s.Get(issueQuery("trigger")))
}

func TestCleanupLRUStage(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{MaxSize: 20, TTL: time.Hour, MinAccessCount: 1})

	base := time.Now()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	// MinAccessCount 1 keeps the frequency stage from evicting anything
	// (every entry starts at 0 but is read once), forcing the LRU stage.
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put(issueQuery(fmt.Sprintf("q-%d", i)), response(1)))
		require.NotNil(t, s.Get(issueQuery(fmt.Sprintf("q-%d", i))))
	}

	require.NoError(t, s.Put(issueQuery("trigger"), response(1)))

	// LRU stage trims to maxSize - 10 before the insert lands.
	assert.Equal(t, 11, s.Len())
	assert.Nil(t, s.Get(issueQuery("q-0")), "least recently accessed must go first")
	assert.NotNil(t, s.Get(issueQuery("q-19")))
}

func TestOverwriteReindexes(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{})
	q := issueQuery("bug")
	require.NoError(t, s.Put(q, response(1)))
	require.NoError(t, s.Put(q, response(5)))

	assert.Equal(t, 1, s.Len())
	got := s.Get(q)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.TotalCount)
}

func TestDisabledStoreIsInert(t *testing.T) {
	s := New(config.CacheConfig{Enabled: false, MaxSize: 10}, zaptest.NewLogger(t))
	q := issueQuery("bug")
	require.NoError(t, s.Put(q, response(1)))
	assert.Nil(t, s.Get(q))
	assert.Equal(t, 0, s.Len())

	st := s.Stats()
	assert.False(t, st.Enabled)
}

func TestStats(t *testing.T) {
	s := newTestStore(t, config.CacheConfig{TTL: 300 * time.Second, MaxSize: 50})
	require.NoError(t, s.Put(issueQuery("a"), response(1)))
	require.NoError(t, s.Put(&models.SearchQuery{
		Text:          "b",
		ResourceTypes: []models.ResourceType{models.ResourceProject},
		Limit:         50,
	}, response(1)))

	st := s.Stats()
	assert.Equal(t, 2, st.TotalEntries)
	assert.Equal(t, 0, st.ExpiredEntries)
	assert.Equal(t, 1, st.PerTypeCounts[models.ResourceIssue])
	assert.Equal(t, 1, st.PerTypeCounts[models.ResourceProject])
	assert.True(t, st.Enabled)
	assert.Equal(t, 50, st.MaxSize)
	assert.Equal(t, 300.0, st.TTLSeconds)
	assert.GreaterOrEqual(t, st.AvgAgeSeconds, 0.0)
}
