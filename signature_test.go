package forumsso

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig := Sign("what do ya want for nothing?", []byte("Jefe"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestSignatureCompletenessAndSoundness(t *testing.T) {
	tokens := []string{"", "bm9uY2U9YWJj", strings.Repeat("x", 1024)}
	secrets := [][]byte{[]byte("topsecret"), []byte("wrongsecret"), []byte("k")}

	for _, token := range tokens {
		for i, s1 := range secrets {
			sig := Sign(token, s1)
			assert.Regexp(t, "^[0-9a-f]{64}$", sig)

			ok, err := Verify(token, sig, s1)
			require.NoError(t, err)
			assert.True(t, ok, "signature must verify under its own secret")

			for j, s2 := range secrets {
				if i == j {
					continue
				}
				ok, err := Verify(token, sig, s2)
				require.NoError(t, err)
				assert.False(t, ok, "signature must not verify under another secret")
			}
		}
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	secret := []byte("topsecret")
	token := (&Payload{Nonce: "abc", Email: "jane@example.com", Username: "jane_doe"}).Encode()
	sig := Sign(token, secret)

	for i := range token {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]

		ok, err := Verify(tampered, sig, secret)
		require.NoError(t, err)
		assert.False(t, ok, "tampered position %d verified", i)
	}
}

func TestVerifyMismatchAndMalformed(t *testing.T) {
	secret := []byte("topsecret")
	sig := Sign("token", secret)

	ok, err := Verify("token", sig[:10], secret)
	assert.NoError(t, err)
	assert.False(t, ok, "short signature")

	ok, err = Verify("token", "", secret)
	assert.NoError(t, err)
	assert.False(t, ok, "empty signature")

	ok, err = Verify("token", strings.ToUpper(sig), secret)
	assert.NoError(t, err)
	assert.True(t, ok, "hex is case-insensitive")

	ok, err = Verify("token", "zz"+sig[2:], secret)
	assert.ErrorIs(t, err, ErrMalformedSignature)
	assert.False(t, ok)
}
