package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/forumsso/cache"
)

// NonceStore implements cache.NonceStore on Redis, so every instance behind a
// load balancer sees the same nonces.
type NonceStore struct {
	client redis.UniversalClient
	prefix string
}

var _ cache.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates a new [NonceStore] instance.
func NewNonceStore(client redis.UniversalClient, prefix string) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the Redis key for a given nonce.
func (r *NonceStore) redisKey(nonce string) string {
	return fmt.Sprintf("%s:nonce:%s", r.prefix, cache.HashKey(nonce))
}

// Claim stores the nonce with SET NX, which is atomic across instances.
func (r *NonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, r.redisKey(nonce), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce in Redis: %w", err)
	}
	return stored, nil
}

// Health pings Redis.
func (r *NonceStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *NonceStore) Close() error {
	return r.client.Close()
}
