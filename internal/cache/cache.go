// Package cache stores search responses keyed by a canonical query hash,
// with TTL expiry, access-aware eviction, and resource-scoped invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/models"
)

// evictionSlack keeps LRU cleanup from running on every insert once the
// store sits at capacity.
const evictionSlack = 10

// Entry is one cached search response with its bookkeeping.
type Entry struct {
	Hash          string
	Response      *models.SearchResponse
	ResourceTypes []models.ResourceType
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
}

// Stats is a point-in-time summary for the stats surface.
type Stats struct {
	TotalEntries   int                         `json:"totalEntries"`
	ExpiredEntries int                         `json:"expiredEntries"`
	PerTypeCounts  map[models.ResourceType]int `json:"perTypeCounts"`
	AvgAgeSeconds  float64                     `json:"avgAgeSeconds"`
	Enabled        bool                        `json:"enabled"`
	MaxSize        int                         `json:"maxSize"`
	TTLSeconds     float64                     `json:"ttl"`
}

// Store is the result cache: a hash-keyed entry map plus a reverse index
// from resource type to the entries that touched it. All access goes
// through one mutex; writers overwrite unconditionally.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	byType    map[models.ResourceType]map[string]struct{}
	enabled   bool
	ttl       time.Duration
	maxSize   int
	minAccess int
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a store from the cache configuration.
func New(cfg config.CacheConfig, logger *zap.Logger) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	minAccess := cfg.MinAccessCount
	if minAccess <= 0 {
		minAccess = 2
	}
	return &Store{
		entries:   make(map[string]*Entry),
		byType:    make(map[models.ResourceType]map[string]struct{}),
		enabled:   cfg.Enabled,
		ttl:       ttl,
		maxSize:   maxSize,
		minAccess: minAccess,
		logger:    logger,
		now:       time.Now,
	}
}

// Key canonicalizes the query and hashes it. Two queries that serialize to
// the same key-sorted JSON share a cache slot regardless of field order.
func Key(q *models.SearchQuery) (string, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize query: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize query: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached response for the query, or nil on miss. Expired
// entries are removed on the way out.
func (s *Store) Get(q *models.SearchQuery) *models.SearchResponse {
	if !s.enabled {
		return nil
	}
	key, err := Key(q)
	if err != nil {
		return nil
	}
	return s.GetByKey(key)
}

// GetByKey is Get for callers that already hold the hash.
func (s *Store) GetByKey(key string) *models.SearchResponse {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil
	}
	now := s.now()
	if now.After(e.ExpiresAt) {
		s.removeLocked(key)
		metrics.CacheMisses.Inc()
		return nil
	}
	e.LastAccessed = now
	e.AccessCount++
	metrics.CacheHits.Inc()
	return e.Response
}

// Put stores the response under the query's hash with the default TTL.
func (s *Store) Put(q *models.SearchQuery, resp *models.SearchResponse) error {
	return s.PutTTL(q, resp, s.ttl)
}

// PutTTL stores the response with an explicit TTL. The entry's resource
// types are taken from the query; they drive invalidation.
func (s *Store) PutTTL(q *models.SearchQuery, resp *models.SearchResponse, ttl time.Duration) error {
	if !s.enabled {
		return nil
	}
	key, err := Key(q)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxSize {
		s.cleanupLocked()
	}

	now := s.now()
	types := make([]models.ResourceType, len(q.ResourceTypes))
	copy(types, q.ResourceTypes)

	// Overwrite unconditionally; the reverse index follows the new types.
	s.removeLocked(key)
	s.entries[key] = &Entry{
		Hash:          key,
		Response:      resp,
		ResourceTypes: types,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		LastAccessed:  now,
	}
	for _, rt := range types {
		set, ok := s.byType[rt]
		if !ok {
			set = make(map[string]struct{})
			s.byType[rt] = set
		}
		set[key] = struct{}{}
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	return nil
}

// Invalidate removes every entry whose resource types intersect the given
// set. With no arguments it clears the whole store. Returns the number of
// entries removed.
func (s *Store) Invalidate(types ...models.ResourceType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(types) == 0 {
		n := len(s.entries)
		s.entries = make(map[string]*Entry)
		s.byType = make(map[models.ResourceType]map[string]struct{})
		metrics.CacheSize.Set(0)
		metrics.CacheInvalidations.WithLabelValues("all").Add(float64(n))
		return n
	}

	removed := 0
	for _, rt := range types {
		keys := s.byType[rt]
		for key := range keys {
			s.removeLocked(key)
			removed++
		}
		metrics.CacheInvalidations.WithLabelValues(string(rt)).Inc()
	}
	metrics.CacheSize.Set(float64(len(s.entries)))
	if removed > 0 {
		s.logger.Debug("Invalidated cache entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(s.entries)),
		)
	}
	return removed
}

// Stats snapshots the store for the stats surface.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := Stats{
		TotalEntries:  len(s.entries),
		PerTypeCounts: make(map[models.ResourceType]int, len(s.byType)),
		Enabled:       s.enabled,
		MaxSize:       s.maxSize,
		TTLSeconds:    s.ttl.Seconds(),
	}
	var ageSum float64
	for _, e := range s.entries {
		if now.After(e.ExpiresAt) {
			st.ExpiredEntries++
		}
		ageSum += now.Sub(e.CreatedAt).Seconds()
	}
	if len(s.entries) > 0 {
		st.AvgAgeSeconds = ageSum / float64(len(s.entries))
	}
	for rt, keys := range s.byType {
		if len(keys) > 0 {
			st.PerTypeCounts[rt] = len(keys)
		}
	}
	return st
}

// Len reports the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanupLocked frees room for one insert: expired entries first, then
// rarely-accessed ones, then straight LRU down to capacity minus slack.
func (s *Store) cleanupLocked() {
	now := s.now()
	for key, e := range s.entries {
		if now.After(e.ExpiresAt) {
			s.removeLocked(key)
			metrics.CacheEvictions.WithLabelValues("expired").Inc()
		}
	}
	if len(s.entries) < s.maxSize {
		return
	}

	for key, e := range s.entries {
		if e.AccessCount < s.minAccess {
			s.removeLocked(key)
			metrics.CacheEvictions.WithLabelValues("rarely_used").Inc()
		}
	}
	if len(s.entries) < s.maxSize {
		return
	}

	target := s.maxSize - evictionSlack
	if target < 0 {
		target = 0
	}
	byAge := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		byAge = append(byAge, e)
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].LastAccessed.Before(byAge[j].LastAccessed)
	})
	for _, e := range byAge {
		if len(s.entries) <= target {
			break
		}
		s.removeLocked(e.Hash)
		metrics.CacheEvictions.WithLabelValues("lru").Inc()
	}
	s.logger.Debug("Cache cleanup complete", zap.Int("remaining", len(s.entries)))
}

func (s *Store) removeLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	for _, rt := range e.ResourceTypes {
		if set, ok := s.byType[rt]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.byType, rt)
			}
		}
	}
}
