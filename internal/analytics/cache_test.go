package analytics

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, serveStale bool, rdb *redis.Client) (*Cache[string], *clock) {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache[string](CacheOptions{
		Name:       "test",
		TTL:        60 * time.Second,
		StaleTTL:   3600 * time.Second,
		ServeStale: serveStale,
		Redis:      rdb,
		Logger:     newTestLogger(),
	})
	c.now = clk.now
	return c, clk
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCache_FreshnessWindows(t *testing.T) {
	key := Key{Category: models.CategoryImageGeneration}
	ctx := context.Background()

	tests := []struct {
		name       string
		serveStale bool
		age        time.Duration
		wantHit    bool
		wantState  Freshness
	}{
		{"fresh", false, 30 * time.Second, true, Fresh},
		{"stale served", true, 120 * time.Second, true, Stale},
		{"stale not served", false, 120 * time.Second, false, Stale},
		{"expired with stale serving", true, 4000 * time.Second, false, Expired},
		{"expired", false, 4000 * time.Second, false, Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newTestCache(t, tt.serveStale, nil)
			c.Set(ctx, key, "value")
			clk.advance(tt.age)

			v, state, ok := c.Get(ctx, key)
			assert.Equal(t, tt.wantHit, ok)
			assert.Equal(t, tt.wantState, state)
			if tt.wantHit {
				assert.Equal(t, "value", v)
			}
		})
	}
}

func TestCache_ExpiredEntryIsEvicted(t *testing.T) {
	c, clk := newTestCache(t, true, nil)
	ctx := context.Background()
	key := Key{Category: models.CategoryTextGeneration}

	c.Set(ctx, key, "v")
	assert.Equal(t, 1, c.Info().Size)
	clk.advance(4000 * time.Second)
	_, _, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Info().Size)
}

func TestCache_InvalidateAxes(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, false, nil)
	text := models.CategoryTextGeneration
	variant := VariantBackendVariations

	keys := []Key{
		{Category: text},
		{Category: text, Grouped: true},
		{Category: text, Variant: variant},
		{Category: models.CategoryImageGeneration},
	}
	for _, k := range keys {
		c.Set(ctx, k, k.String())
	}

	grouped := true
	c.Invalidate(ctx, text, &grouped, nil)
	_, _, ok := c.Get(ctx, keys[1])
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, keys[0])
	assert.True(t, ok)

	c.Invalidate(ctx, text, nil, &variant)
	_, _, ok = c.Get(ctx, keys[2])
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, keys[0])
	assert.True(t, ok)

	c.Invalidate(ctx, text, nil, nil)
	_, _, ok = c.Get(ctx, keys[0])
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, keys[3])
	assert.True(t, ok, "other categories are untouched")
}

func TestCache_RedisTier(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	c, clk := newTestCache(t, true, rdb)
	key := Key{Category: models.CategoryImageGeneration, Grouped: false}

	c.Set(ctx, key, "shared")
	require.True(t, mr.Exists("horde:test:"+key.String()))

	// a second process sharing redis sees the value
	other, _ := newTestCache(t, true, rdb)
	other.now = clk.now
	v, state, ok := other.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "shared", v)
	assert.Equal(t, Fresh, state)

	clk.advance(120 * time.Second)
	_, state, ok = other.Get(ctx, key)
	assert.True(t, ok)
	assert.Equal(t, Stale, state)

	c.Invalidate(ctx, models.CategoryImageGeneration, nil, nil)
	assert.False(t, mr.Exists("horde:test:"+key.String()))
	_, _, ok = other.Get(ctx, key)
	assert.False(t, ok)
}

func TestCache_InvalidateVariantIsLiteral(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	c, _ := newTestCache(t, false, rdb)
	clip := models.CategoryClip

	wild := Key{Category: clip, Variant: "a*"}
	plain := Key{Category: clip, Variant: "ab"}
	class := Key{Category: clip, Variant: "a[b]"}
	for _, k := range []Key{wild, plain, class} {
		c.Set(ctx, k, k.String())
	}
	require.Len(t, mr.Keys(), 3)

	variant := "a*"
	c.Invalidate(ctx, clip, nil, &variant)
	assert.False(t, mr.Exists("horde:test:"+wild.String()))
	assert.True(t, mr.Exists("horde:test:"+plain.String()))
	assert.True(t, mr.Exists("horde:test:"+class.String()))

	variant = "a[b]"
	c.Invalidate(ctx, clip, nil, &variant)
	assert.False(t, mr.Exists("horde:test:"+class.String()))
	assert.True(t, mr.Exists("horde:test:"+plain.String()))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "plain", escapeGlob("plain"))
	assert.Equal(t, `a\*b\?c\[d\]e\\`, escapeGlob(`a*b?c[d]e\`))
}

func TestCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	c, _ := newTestCache(t, false, rdb)
	for _, cat := range []models.Category{models.CategoryClip, models.CategoryBlip} {
		c.Set(ctx, Key{Category: cat}, "x")
	}
	require.Len(t, mr.Keys(), 2)

	c.ClearAll(ctx)
	assert.Empty(t, mr.Keys())
	info := c.Info()
	assert.Equal(t, 0, info.Size)
	assert.True(t, info.RedisEnabled)
	assert.Equal(t, 60, info.TTLSeconds)
	assert.Equal(t, 3600, info.StaleTTLSeconds)
}
