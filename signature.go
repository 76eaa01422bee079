package forumsso

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign returns the lowercase hex HMAC-SHA256 of token keyed by secret.
func Sign(token string, secret []byte) string {
	return hex.EncodeToString(mac(token, secret))
}

// Verify recomputes the signature of token and compares it with signature in
// constant time. A mismatch is reported as false with a nil error; only a
// signature that is not valid hex yields ErrMalformedSignature.
func Verify(token, signature string, secret []byte) (bool, error) {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return hmac.Equal(mac(token, secret), provided), nil
}

func mac(token string, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(token))
	return h.Sum(nil)
}
