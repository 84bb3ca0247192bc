package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier2 implements Tier2 against a Redis (or Redis-protocol-compatible)
// server, namespaced by key prefix.
type RedisTier2 struct {
	client *redis.Client
}

// NewRedisTier2 wraps an existing *redis.Client.
func NewRedisTier2(client *redis.Client) *RedisTier2 {
	return &RedisTier2{client: client}
}

func (r *RedisTier2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisTier2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisTier2) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
