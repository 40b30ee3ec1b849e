// Package cache is the response cache for non-streaming completions: a
// two-tier in-memory TTL cache (repeat hits graduate to a longer-lived hot
// tier) with an optional Redis backing store shared across replicas.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/geminigate/geminigate/openaiapi"
)

// maxCacheableTemperature bounds caching to mostly-deterministic requests.
const maxCacheableTemperature = 1.5

// redisTimeout bounds each backing-store round trip.
const redisTimeout = 250 * time.Millisecond

type (
	// Cache caches translated completion responses keyed by a request
	// fingerprint. Safe for concurrent use.
	Cache struct {
		enabled bool
		prefix  string
		ttl     time.Duration
		rdb     *redis.Client
		now     func() time.Time

		mu     sync.Mutex
		cold   *tier
		hot    *tier
		hits   int
		misses int
	}

	// Options configures a Cache.
	Options struct {
		Enabled   bool
		MaxSize   int
		TTL       time.Duration
		KeyPrefix string
		// Redis, when set, backs the in-memory tiers with a shared store.
		Redis *redis.Client
		// Now overrides the clock for tests.
		Now func() time.Time
	}

	// Stats is the cache view served by /stats.
	Stats struct {
		Enabled   bool    `json:"enabled"`
		Hits      int     `json:"hit_count"`
		Misses    int     `json:"miss_count"`
		HitRate   float64 `json:"hit_rate"`
		Size      int     `json:"cache_size"`
		HotSize   int     `json:"frequent_cache_size"`
		MaxSize   int     `json:"max_size"`
		TTLSecond float64 `json:"ttl"`
	}

	tier struct {
		max   int
		ttl   time.Duration
		items map[string]entry
	}

	entry struct {
		data    []byte
		expires time.Time
	}
)

// New constructs a Cache. The hot tier holds a quarter of MaxSize at twice
// the TTL, mirroring the cold tier's graduation policy.
func New(opts Options) *Cache {
	c := &Cache{
		enabled: opts.Enabled,
		prefix:  opts.KeyPrefix,
		ttl:     opts.TTL,
		rdb:     opts.Redis,
		now:     opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = 5 * time.Minute
	}
	if c.now == nil {
		c.now = time.Now
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	hotSize := maxSize / 4
	if hotSize == 0 {
		hotSize = 1
	}
	c.cold = newTier(maxSize, c.ttl)
	c.hot = newTier(hotSize, 2*c.ttl)
	return c
}

// ShouldCache reports whether a request is eligible: non-streaming, no tools,
// and near-deterministic sampling.
func (c *Cache) ShouldCache(req *openaiapi.ChatRequest) bool {
	if !c.enabled || req.Stream || len(req.Tools) > 0 {
		return false
	}
	return req.Temperature == nil || *req.Temperature <= maxCacheableTemperature
}

// Get returns the cached response for req, if any. A cold-tier hit promotes
// the entry to the hot tier.
func (c *Cache) Get(ctx context.Context, req *openaiapi.ChatRequest) (*openaiapi.ChatResponse, bool) {
	if !c.ShouldCache(req) {
		return nil, false
	}
	key := c.Key(req)
	now := c.now()

	c.mu.Lock()
	data, ok := c.hot.get(key, now)
	if !ok {
		if data, ok = c.cold.get(key, now); ok {
			c.hot.set(key, data, now)
		}
	}
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok && c.rdb != nil {
		data, ok = c.remoteGet(ctx, key)
		if ok {
			c.mu.Lock()
			c.cold.set(key, data, now)
			c.hits++
			c.misses--
			c.mu.Unlock()
		}
	}
	if !ok {
		return nil, false
	}

	var resp openaiapi.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Set stores the response for req if it is cacheable.
func (c *Cache) Set(ctx context.Context, req *openaiapi.ChatRequest, resp *openaiapi.ChatResponse) {
	if !c.ShouldCache(req) {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	key := c.Key(req)

	c.mu.Lock()
	c.cold.set(key, data, c.now())
	c.mu.Unlock()

	if c.rdb != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
		defer cancel()
		if err := c.rdb.Set(rctx, key, data, c.ttl).Err(); err != nil {
			log.Debugf(ctx, "cache: redis set failed: %s", err)
		}
	}
}

// Key computes the fingerprint of a request: a hash over the fields that
// determine the response.
func (c *Cache) Key(req *openaiapi.ChatRequest) string {
	fingerprint := struct {
		Model       string              `json:"model"`
		Messages    []openaiapi.Message `json:"messages"`
		Temperature *float64            `json:"temperature"`
		MaxTokens   *int                `json:"max_tokens"`
		Tools       []openaiapi.ToolDef `json:"tools"`
	}{req.Model, req.Messages, req.Temperature, req.MaxTokens, req.Tools}

	data, _ := json.Marshal(fingerprint)
	sum := sha256.Sum256(data)
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// Stats returns hit/miss accounting and tier sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Enabled:   c.enabled,
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.cold.items),
		HotSize:   len(c.hot.items),
		MaxSize:   c.cold.max,
		TTLSecond: c.ttl.Seconds(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// Clear drops all entries and resets counters. The Redis tier is left alone:
// other replicas may still be serving from it.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cold.items = make(map[string]entry)
	c.hot.items = make(map[string]entry)
	c.hits, c.misses = 0, 0
}

func (c *Cache) remoteGet(ctx context.Context, key string) ([]byte, bool) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()
	data, err := c.rdb.Get(rctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debugf(ctx, "cache: redis get failed: %s", err)
		}
		return nil, false
	}
	return data, true
}

func newTier(max int, ttl time.Duration) *tier {
	return &tier{max: max, ttl: ttl, items: make(map[string]entry)}
}

func (t *tier) get(key string, now time.Time) ([]byte, bool) {
	e, ok := t.items[key]
	if !ok {
		return nil, false
	}
	if e.expires.Before(now) {
		delete(t.items, key)
		return nil, false
	}
	return e.data, true
}

func (t *tier) set(key string, data []byte, now time.Time) {
	if len(t.items) >= t.max {
		t.evict(now)
	}
	t.items[key] = entry{data: data, expires: now.Add(t.ttl)}
}

// evict removes expired entries, then the soonest-expiring one if the tier is
// still full. With a uniform TTL that approximates oldest-first.
func (t *tier) evict(now time.Time) {
	for k, e := range t.items {
		if e.expires.Before(now) {
			delete(t.items, k)
		}
	}
	if len(t.items) < t.max {
		return
	}
	var oldest string
	var oldestAt time.Time
	for k, e := range t.items {
		if oldest == "" || e.expires.Before(oldestAt) {
			oldest, oldestAt = k, e.expires
		}
	}
	delete(t.items, oldest)
}
