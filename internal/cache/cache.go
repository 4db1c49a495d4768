// Package cache provides the short-lived dedup cache the paging adapter
// uses to avoid reprocessing the same upstream log entry twice, backed by
// Redis in production and an in-process LRU for single-instance runs.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the cache backend cannot be reached.
var ErrUnavailable = errors.New("cache unavailable")

// DedupCache tracks keys seen within a TTL window. SeenRecently reports
// whether MarkSeen was already called for key within ttl, which lets a
// caller treat repeated observations of the same upstream event as a
// no-op instead of reprocessing it.
type DedupCache interface {
	SeenRecently(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// RedisDedupCache backs the dedup cache with Redis SET NX, so multiple
// service instances share one dedup window.
type RedisDedupCache struct {
	client *redis.Client
	logger *slog.Logger
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// DefaultConfig returns sane single-node defaults.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379", PoolSize: 10}
}

// NewRedisDedupCache connects to Redis and verifies reachability.
func NewRedisDedupCache(cfg Config, logger *slog.Logger) (*RedisDedupCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	return &RedisDedupCache{client: client, logger: logger.With("component", "dedup_cache")}, nil
}

// SeenRecently reports whether key is currently present (and therefore was
// marked within its TTL window).
func (c *RedisDedupCache) SeenRecently(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.ErrorContext(ctx, "dedup lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return false, errors.Join(ErrUnavailable, err)
	}
	return n > 0, nil
}

// MarkSeen records key with the given TTL.
func (c *RedisDedupCache) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		c.logger.ErrorContext(ctx, "dedup mark failed", slog.String("key", key), slog.String("error", err.Error()))
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (c *RedisDedupCache) Close() error {
	return c.client.Close()
}

// MemoryDedupCache is a single-instance fallback over an expirable LRU,
// used when no Redis endpoint is configured.
type MemoryDedupCache struct {
	cache *lru.LRU[string, struct{}]
}

// NewMemoryDedupCache builds a fallback cache holding up to size keys,
// each expiring after ttl regardless of MarkSeen's own ttl argument (the
// LRU's own eviction horizon is the outer bound).
func NewMemoryDedupCache(size int, ttl time.Duration) *MemoryDedupCache {
	return &MemoryDedupCache{cache: lru.NewLRU[string, struct{}](size, nil, ttl)}
}

func (c *MemoryDedupCache) SeenRecently(_ context.Context, key string) (bool, error) {
	_, ok := c.cache.Get(key)
	return ok, nil
}

func (c *MemoryDedupCache) MarkSeen(_ context.Context, key string, _ time.Duration) error {
	c.cache.Add(key, struct{}{})
	return nil
}

func (c *MemoryDedupCache) Close() error { return nil }
