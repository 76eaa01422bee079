package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey hashes a caller supplied key. Inbound nonces come from the network,
// so hashing keeps stored keys at a fixed length.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
