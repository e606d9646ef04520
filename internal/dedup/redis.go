package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatbridge/pkg/metrics"
)

// RedisStore backs the dedup cache with Redis SET NX + TTL. It survives
// bridge restarts, closing the duplicate-delivery window the memory
// store accepts, at the cost of an external dependency.
type RedisStore struct {
	name   string
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(name string, client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		name:   name,
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	inserted, err := s.client.SetNX(ctx, s.prefix+key, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		metrics.DedupChecksTotal.WithLabelValues(s.name, "error").Inc()
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}

	if inserted {
		metrics.DedupChecksTotal.WithLabelValues(s.name, "unique").Inc()
		return false, nil
	}

	metrics.DedupChecksTotal.WithLabelValues(s.name, "duplicate").Inc()
	return true, nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

func (s *RedisStore) Close() error {
	return nil
}
