package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a cache shared between server instances, with a small
// local TinyLFU layer in front of redis.
type RedisStore struct {
	rdb    *redis.Client
	data   *cache.Cache
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an already connected client. localTTL bounds how
// stale the local layer may be after an invalidation on another instance.
func NewRedisStore(rdb *redis.Client, localTTL time.Duration) *RedisStore {
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, localTTL),
	})
	return &RedisStore{
		rdb:    rdb,
		data:   data,
		prefix: "cache/",
	}
}

// Get reads through the local layer to redis; a miss is not an error
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.data.Get(ctx, s.prefix+key, &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes both layers, using DefaultTTL when ttl is not positive
func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.prefix + key,
		Value: val,
		TTL:   ttl,
	})
}

// Delete removes key from both layers
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.data.Delete(ctx, s.prefix+key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

// InvalidatePattern deletes every key containing pattern. Glob
// metacharacters in pattern match literally.
func (s *RedisStore) InvalidatePattern(ctx context.Context, pattern string) error {
	match := s.prefix + "*" + escapeGlob(pattern) + "*"
	iter := s.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		err := s.data.Delete(ctx, iter.Val())
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return err
		}
	}
	return iter.Err()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
