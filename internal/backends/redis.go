package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// RedisOptions configure a RedisBackend.
type RedisOptions struct {
	URL              string
	PoolSize         int
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	KeyPrefix        string
	TTL              time.Duration
	UsePubSub        bool
	// Metadata, when set, backs the cached ledger reads.
	Metadata *metadata.Manager
	Logger   *slog.Logger
}

// RedisBackend is a distributed cache in front of a PRIMARY file backend.
// Writes go to the file backend; invalidations are broadcast to the other
// workers over pub/sub.
type RedisBackend struct {
	opts   RedisOptions
	logger *slog.Logger
	file   Backend
	rdb    *redis.Client
	group  singleflight.Group
	id     string

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBackend connects to Redis and wraps file. The file backend must
// be in PRIMARY mode.
func NewRedisBackend(ctx context.Context, file Backend, opts RedisOptions) (*RedisBackend, error) {
	if file.Mode() != ModePrimary {
		return nil, fmt.Errorf("%w: redis backend wraps a PRIMARY file backend", ErrWrongMode)
	}
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.PoolSize > 0 {
		ropts.PoolSize = opts.PoolSize
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "horde:model_ref"
	}
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	if opts.RetryMaxAttempts < 1 {
		opts.RetryMaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &RedisBackend{
		opts:   opts,
		logger: opts.Logger,
		file:   file,
		rdb:    redis.NewClient(ropts),
		id:     uuid.NewString(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		b.rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	b.logger.Info("Redis connection established", "key_prefix", opts.KeyPrefix, "ttl", opts.TTL)

	if opts.UsePubSub {
		if err := b.subscribe(ctx); err != nil {
			b.logger.Warn("Failed to set up Redis pub/sub", "error", err)
		}
	}
	return b, nil
}

func (b *RedisBackend) categoryKey(c models.Category) string {
	return b.opts.KeyPrefix + ":category:" + string(c)
}

func (b *RedisBackend) legacyKey(c models.Category) string {
	return b.opts.KeyPrefix + ":legacy:" + string(c)
}

func (b *RedisBackend) metaKey(ledger paths.Ledger, c models.Category) string {
	return b.opts.KeyPrefix + ":meta:" + string(ledger) + ":" + string(c)
}

func (b *RedisBackend) channel() string { return b.opts.KeyPrefix + ":invalidate" }

func (b *RedisBackend) subscribe(ctx context.Context) error {
	b.pubsub = b.rdb.Subscribe(ctx, b.channel())
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		b.pubsub = nil
		return err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	ch := b.pubsub.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Debug("Redis pub/sub listener started", "channel", b.channel())
		for {
			select {
			case <-listenCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleInvalidation(msg.Payload)
			}
		}
	}()
	b.logger.Info("Redis pub/sub listening", "channel", b.channel())
	return nil
}

// handleInvalidation processes "<worker id>|<category>" messages from
// other workers.
func (b *RedisBackend) handleInvalidation(payload string) {
	sender, cat, found := strings.Cut(payload, "|")
	if !found || sender == b.id {
		return
	}
	c, err := models.ParseCategory(cat)
	if err != nil {
		b.logger.Warn("Ignoring invalid invalidation message", "payload", payload)
		return
	}
	b.logger.Debug("Received invalidation from another worker", "category", c)
	b.file.MarkStale(c)
}

// retry runs op with exponential backoff on connection errors. A missing
// key is returned immediately.
func (b *RedisBackend) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < b.opts.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			wait := b.opts.RetryBackoff * time.Duration(1<<(attempt-1))
			b.logger.Warn("Redis operation failed, retrying", "wait", wait, "error", err)
			if serr := sleepContext(ctx, wait); serr != nil {
				return serr
			}
		}
		err = op()
		if err == nil || errors.Is(err, redis.Nil) {
			return err
		}
	}
	return err
}

func (b *RedisBackend) Name() string        { return "redis" }
func (b *RedisBackend) Mode() ReplicateMode { return ModePrimary }

func (b *RedisBackend) CategoryFilePath(c models.Category) string { return b.file.CategoryFilePath(c) }

func (b *RedisBackend) NeedsRefresh(c models.Category) bool { return b.file.NeedsRefresh(c) }

func (b *RedisBackend) RegisterInvalidationCallback(fn InvalidationFunc) {
	b.file.RegisterInvalidationCallback(fn)
}

// MarkStale invalidates c locally, in Redis and, through pub/sub, on every
// other worker.
func (b *RedisBackend) MarkStale(c models.Category) {
	b.file.MarkStale(c)
	b.invalidate(context.Background(), c)
}

func (b *RedisBackend) invalidate(ctx context.Context, c models.Category) {
	keys := []string{
		b.categoryKey(c),
		b.legacyKey(c),
		b.metaKey(paths.LedgerLegacy, c),
		b.metaKey(paths.LedgerV2, c),
	}
	if err := b.retry(ctx, func() error { return b.rdb.Del(ctx, keys...).Err() }); err != nil {
		b.logger.Warn("Failed to delete Redis keys", "category", c, "error", err)
	}
	if !b.opts.UsePubSub {
		return
	}
	payload := b.id + "|" + string(c)
	if err := b.retry(ctx, func() error { return b.rdb.Publish(ctx, b.channel(), payload).Err() }); err != nil {
		b.logger.Warn("Failed to publish invalidation", "category", c, "error", err)
	}
}

func (b *RedisBackend) FetchCategory(ctx context.Context, c models.Category, force bool) (models.RawDocument, error) {
	key := b.categoryKey(c)
	if !force && !b.file.NeedsRefresh(c) {
		var data []byte
		err := b.retry(ctx, func() error {
			var gerr error
			data, gerr = b.rdb.Get(ctx, key).Bytes()
			return gerr
		})
		switch {
		case err == nil:
			doc, derr := models.DecodeRawDocument(data)
			if derr == nil {
				fetches.WithLabelValues(b.Name(), "hit").Inc()
				return doc, nil
			}
			b.logger.Warn("Discarding undecodable Redis entry", "category", c, "error", derr)
		case errors.Is(err, redis.Nil):
		default:
			b.logger.Warn("Redis fetch failed, falling back to file", "category", c, "error", err)
		}
	}

	v, err, _ := b.group.Do(string(c), func() (any, error) {
		doc, err := b.file.FetchCategory(ctx, c, force)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(doc)
		if err == nil {
			err = b.retry(ctx, func() error { return b.rdb.Set(ctx, key, data, b.opts.TTL).Err() })
		}
		if err != nil {
			b.logger.Warn("Failed to cache category in Redis", "category", c, "error", err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	fetches.WithLabelValues(b.Name(), "refreshed").Inc()
	return v.(models.RawDocument), nil
}

func (b *RedisBackend) FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error) {
	out := make(map[models.Category]models.RawDocument, len(models.AllCategories))
	for _, c := range models.AllCategories {
		doc, err := b.FetchCategory(ctx, c, force)
		if err != nil {
			out[c] = nil
			continue
		}
		out[c] = doc
	}
	return out, nil
}

func (b *RedisBackend) LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error) {
	key := b.legacyKey(c)
	if !redownload {
		var s string
		err := b.retry(ctx, func() error {
			var gerr error
			s, gerr = b.rdb.Get(ctx, key).Result()
			return gerr
		})
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, redis.Nil) {
			b.logger.Warn("Redis legacy fetch failed, falling back to file", "category", c, "error", err)
		}
	}
	s, err := b.file.LegacyJSONString(ctx, c, redownload)
	if err != nil {
		return "", err
	}
	if err := b.retry(ctx, func() error { return b.rdb.Set(ctx, key, s, b.opts.TTL).Err() }); err != nil {
		b.logger.Warn("Failed to cache legacy document in Redis", "category", c, "error", err)
	}
	return s, nil
}

func (b *RedisBackend) LegacyJSON(ctx context.Context, c models.Category, redownload bool) (legacy.Document, error) {
	s, err := b.LegacyJSONString(ctx, c, redownload)
	if err != nil {
		return nil, err
	}
	var doc legacy.Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("%w: legacy %s: %v", ErrUnavailable, c, err)
	}
	return doc, nil
}

// CategoryMetadata reads a ledger through the Redis cache.
func (b *RedisBackend) CategoryMetadata(ctx context.Context, ledger paths.Ledger, c models.Category) (*metadata.CategoryMetadata, error) {
	if b.opts.Metadata == nil {
		return nil, metadata.ErrMetadataNotFound
	}
	key := b.metaKey(ledger, c)
	var data []byte
	err := b.retry(ctx, func() error {
		var gerr error
		data, gerr = b.rdb.Get(ctx, key).Bytes()
		return gerr
	})
	if err == nil {
		var meta metadata.CategoryMetadata
		if err := json.Unmarshal(data, &meta); err == nil {
			return &meta, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		b.logger.Warn("Redis metadata fetch failed, falling back to file", "category", c, "error", err)
	}

	meta, err := b.opts.Metadata.Get(ledger, c)
	if err != nil {
		return nil, err
	}
	if out, err := json.Marshal(meta); err == nil {
		if err := b.retry(ctx, func() error { return b.rdb.Set(ctx, key, out, b.opts.TTL).Err() }); err != nil {
			b.logger.Warn("Failed to cache metadata in Redis", "category", c, "error", err)
		}
	}
	return meta, nil
}

func (b *RedisBackend) SupportsWrites() bool       { return b.file.SupportsWrites() }
func (b *RedisBackend) SupportsLegacyWrites() bool { return b.file.SupportsLegacyWrites() }

func (b *RedisBackend) UpdateModel(ctx context.Context, c models.Category, rec *models.ModelRecord) error {
	if err := b.file.UpdateModel(ctx, c, rec); err != nil {
		return err
	}
	b.invalidate(ctx, c)
	return nil
}

func (b *RedisBackend) DeleteModel(ctx context.Context, c models.Category, name string) error {
	if err := b.file.DeleteModel(ctx, c, name); err != nil {
		return err
	}
	b.invalidate(ctx, c)
	return nil
}

func (b *RedisBackend) UpdateModelLegacy(ctx context.Context, c models.Category, name string, raw json.RawMessage) error {
	if err := b.file.UpdateModelLegacy(ctx, c, name, raw); err != nil {
		return err
	}
	b.invalidate(ctx, c)
	return nil
}

func (b *RedisBackend) DeleteModelLegacy(ctx context.Context, c models.Category, name string) error {
	if err := b.file.DeleteModelLegacy(ctx, c, name); err != nil {
		return err
	}
	b.invalidate(ctx, c)
	return nil
}

// WarmCache loads every category from the file backend into Redis.
func (b *RedisBackend) WarmCache(ctx context.Context) error {
	b.logger.Info("Warming Redis cache")
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range models.AllCategories {
		g.Go(func() error {
			if _, err := b.FetchCategory(gctx, c, true); err != nil {
				b.logger.Debug("Category not warmed", "category", c, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.logger.Info("Redis cache warming complete")
	return nil
}

// HealthCheck pings Redis.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Statistics reports key count and server counters.
func (b *RedisBackend) Statistics(ctx context.Context) (map[string]any, error) {
	size, err := b.rdb.DBSize(ctx).Result()
	if err != nil {
		return map[string]any{"connected": false, "error": err.Error()}, nil
	}
	out := map[string]any{
		"backend":    b.Name(),
		"connected":  true,
		"keys_count": size,
	}
	if info, err := b.rdb.Info(ctx, "stats", "memory").Result(); err == nil {
		fields := parseRedisInfo(info)
		out["total_connections"] = fields["total_connections_received"]
		out["total_commands"] = fields["total_commands_processed"]
		out["memory_used_bytes"] = fields["used_memory"]
		out["memory_used_human"] = fields["used_memory_human"]
	}
	return out, nil
}

func parseRedisInfo(info string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}

// Close stops the pub/sub listener and closes the connection and the file
// backend.
func (b *RedisBackend) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	b.wg.Wait()
	err := b.rdb.Close()
	if ferr := b.file.Close(); err == nil {
		err = ferr
	}
	return err
}
