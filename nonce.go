package forumsso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	nonceBytes       = 16
	defaultNonceTTL  = 10 * time.Minute
	maxNonceAttempts = 3

	inboundNoncePrefix  = "inbound:"
	outboundNoncePrefix = "outbound:"
)

// NonceStore remembers nonces for a limited time.
//
// Claim records nonce for ttl and reports whether it was not recorded before.
// Implementations must make the check-and-set atomic.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// NewNonce returns a hex encoded nonce read from r, or from crypto/rand when r is nil.
func NewNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
