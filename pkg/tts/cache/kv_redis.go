package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is the shared, optional second tier (spec.md §4.2): a
// prefixed keyspace with server-side TTL, so expiry doesn't depend on a
// background sweep running in this process.
type RedisKV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisKV(client *redis.Client, prefix string, ttl time.Duration) *RedisKV {
	return &RedisKV{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisKV) Name() string { return "kv" }

func (r *RedisKV) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisKV) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key.RedisKey(r.prefix)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		// Backend unavailable: the cache degrades by skipping this tier,
		// not by surfacing the error as a cache miss failure (spec.md §7).
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key Key, value []byte) error {
	return r.client.Set(ctx, key.RedisKey(r.prefix), value, r.ttl).Err()
}
