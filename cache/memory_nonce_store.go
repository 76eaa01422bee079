package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryNonceStore implements NonceStore using ttlcache. Nonces are only
// shared within one process, so it suits single instance deployments.
type MemoryNonceStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryNonceStore creates an in-memory nonce store with automatic cleanup.
func NewMemoryNonceStore(defaultTTL time.Duration) *MemoryNonceStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	go c.Start()

	return &MemoryNonceStore{cache: c}
}

// Claim implements NonceStore.Claim.
func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	_, found := s.cache.GetOrSet(HashKey(nonce), struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	return !found, nil
}

// Count returns the number of nonces currently remembered.
func (s *MemoryNonceStore) Count() int {
	return s.cache.Len()
}

// Health implements NonceStore.Health. The memory store is always healthy.
func (s *MemoryNonceStore) Health(context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryNonceStore) Close() error {
	s.cache.Stop()

	return nil
}
