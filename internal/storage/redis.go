package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"comicforge/internal/config"
)

// ErrCacheMiss is returned when a key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a redis-backed byte cache for rendered assets. Rendering the same
// panel prompt or narration twice is pure waste, so results are keyed by a
// digest of their full input.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCache(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{client: client, ttl: cfg.CacheTTL, log: log}, nil
}

// Key digests the parts that fully determine a rendered asset.
func Key(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}
	return data, nil
}

func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		// A failed cache write costs a re-render later, nothing more.
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *Cache) Close() error { return c.client.Close() }
