package cache

import (
	"context"
	"time"
)

// NonceStore remembers nonces until their TTL elapses. It satisfies
// forumsso.NonceStore and adds what the server needs to operate it.
type NonceStore interface {
	// Claim records nonce for ttl. It returns false when the nonce is
	// already recorded and not yet expired.
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error
	Close() error
}
