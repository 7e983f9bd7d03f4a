// Package analytics computes derived statistics and deletion-risk audits over
// model references and caches them with stale-while-revalidate semantics.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

// Key identifies one cached result.
type Key struct {
	Category models.Category
	Grouped  bool
	Variant  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:grouped=%t:variant=%s", k.Category, k.Grouped, k.Variant)
}

// Freshness is the state of an entry relative to now.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	}
	return "expired"
}

// CacheOptions configure a Cache.
type CacheOptions struct {
	// Name labels the cache in logs, metrics and Redis keys.
	Name       string
	TTL        time.Duration
	StaleTTL   time.Duration
	ServeStale bool
	// Redis is optional; nil keeps the cache in memory only.
	Redis     *redis.Client
	KeyPrefix string
	Logger    *slog.Logger
}

type entry[T any] struct {
	Value    T         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is a two-tier (Redis, memory) result cache. Entries younger than
// TTL are fresh; entries younger than StaleTTL are served only when
// ServeStale is set; older entries are evicted.
type Cache[T any] struct {
	opts   CacheOptions
	logger *slog.Logger
	rdb    *redis.Client
	now    func() time.Time

	mu      sync.Mutex
	entries map[Key]entry[T]
}

// NewCache creates a cache.
func NewCache[T any](opts CacheOptions) *Cache[T] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StaleTTL < opts.TTL {
		opts.StaleTTL = opts.TTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "horde:" + opts.Name
	}
	return &Cache[T]{
		opts:    opts,
		logger:  opts.Logger.With("cache", opts.Name),
		rdb:     opts.Redis,
		now:     time.Now,
		entries: make(map[Key]entry[T]),
	}
}

// DialRedis connects the Redis tier shared by the analytics caches.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (c *Cache[T]) redisKey(k Key) string {
	return c.opts.KeyPrefix + ":" + k.String()
}

func (c *Cache[T]) freshness(storedAt time.Time) Freshness {
	age := c.now().Sub(storedAt)
	switch {
	case age < c.opts.TTL:
		return Fresh
	case age < c.opts.StaleTTL:
		return Stale
	}
	return Expired
}

// usable reports whether an entry of the given freshness may be returned.
func (c *Cache[T]) usable(f Freshness) bool {
	return f == Fresh || (f == Stale && c.opts.ServeStale)
}

// Get returns the cached value of k and its freshness.
func (c *Cache[T]) Get(ctx context.Context, k Key) (T, Freshness, bool) {
	var zero T

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, c.redisKey(k)).Bytes()
		switch {
		case err == nil:
			var e entry[T]
			if err := json.Unmarshal(data, &e); err != nil {
				c.logger.Warn("Failed to decode cached value", "key", k.String(), "error", err)
				break
			}
			f := c.freshness(e.StoredAt)
			if c.usable(f) {
				cacheLookups.WithLabelValues(c.opts.Name, "redis_"+f.String()).Inc()
				return e.Value, f, true
			}
		case errors.Is(err, redis.Nil):
		default:
			c.logger.Warn("Failed to read from redis", "key", k.String(), "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		cacheLookups.WithLabelValues(c.opts.Name, "miss").Inc()
		return zero, Expired, false
	}
	f := c.freshness(e.StoredAt)
	if f == Expired {
		delete(c.entries, k)
		cacheLookups.WithLabelValues(c.opts.Name, "expired").Inc()
		return zero, Expired, false
	}
	if !c.usable(f) {
		cacheLookups.WithLabelValues(c.opts.Name, "miss").Inc()
		return zero, f, false
	}
	cacheLookups.WithLabelValues(c.opts.Name, "memory_"+f.String()).Inc()
	return e.Value, f, true
}

// Set stores v under k in both tiers.
func (c *Cache[T]) Set(ctx context.Context, k Key, v T) {
	e := entry[T]{Value: v, StoredAt: c.now()}

	if c.rdb != nil {
		data, err := json.Marshal(e)
		if err == nil {
			err = c.rdb.Set(ctx, c.redisKey(k), data, c.opts.StaleTTL).Err()
		}
		if err != nil {
			c.logger.Warn("Failed to store in redis", "key", k.String(), "error", err)
		}
	}

	c.mu.Lock()
	c.entries[k] = e
	c.mu.Unlock()
}

// Invalidate drops the entries of category. A nil grouped or variant matches
// every value of that axis.
func (c *Cache[T]) Invalidate(ctx context.Context, category models.Category, grouped *bool, variant *string) {
	match := func(k Key) bool {
		return k.Category == category &&
			(grouped == nil || k.Grouped == *grouped) &&
			(variant == nil || k.Variant == *variant)
	}

	c.mu.Lock()
	removed := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.rdb != nil {
		g, v := "*", "*"
		if grouped != nil {
			g = fmt.Sprintf("%t", *grouped)
		}
		if variant != nil {
			v = escapeGlob(*variant)
		}
		pattern := fmt.Sprintf("%s:%s:grouped=%s:variant=%s",
			escapeGlob(c.opts.KeyPrefix), escapeGlob(string(category)), g, v)
		if err := c.deletePattern(ctx, pattern); err != nil {
			c.logger.Warn("Failed to invalidate redis entries", "category", category, "error", err)
		}
	}
	if removed > 0 {
		c.logger.Debug("Cache entries invalidated", "category", category, "removed", removed)
	}
}

// ClearAll drops every entry in both tiers.
func (c *Cache[T]) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[Key]entry[T])
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.deletePattern(ctx, c.opts.KeyPrefix+":*"); err != nil {
			c.logger.Warn("Failed to clear redis entries", "error", err)
		}
	}
	c.logger.Info("Cache cleared")
}

func (c *Cache[T]) deletePattern(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// CacheInfo describes the state of a cache.
type CacheInfo struct {
	Name            string   `json:"name"`
	Size            int      `json:"cache_size"`
	RedisEnabled    bool     `json:"redis_enabled"`
	TTLSeconds      int      `json:"ttl_seconds"`
	StaleTTLSeconds int      `json:"stale_ttl_seconds"`
	ServeStale      bool     `json:"serve_stale"`
	Keys            []string `json:"keys_cached"`
}

// Info reports the in-memory state of the cache.
func (c *Cache[T]) Info() CacheInfo {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k.String())
	}
	c.mu.Unlock()
	sort.Strings(keys)

	return CacheInfo{
		Name:            c.opts.Name,
		Size:            len(keys),
		RedisEnabled:    c.rdb != nil,
		TTLSeconds:      int(c.opts.TTL / time.Second),
		StaleTTLSeconds: int(c.opts.StaleTTL / time.Second),
		ServeStale:      c.opts.ServeStale,
		Keys:            keys,
	}
}

// escapeGlob quotes the metacharacters of a Redis MATCH pattern.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
