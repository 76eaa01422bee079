package forumsso

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/forumsso/domain"
)

var (
	testSecret = []byte("topsecret")
	janeDoe    = &domain.User{ID: "42", Name: "Jane Doe", Email: "jane@example.com"}
)

type MockNonceStore struct {
	mock.Mock
}

func (m *MockNonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, nonce, ttl)
	return args.Bool(0), args.Error(1)
}

// mapNonceStore is a minimal in-process NonceStore for service tests.
type mapNonceStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *mapNonceStore) Claim(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[nonce] {
		return false, nil
	}
	s.seen[nonce] = true
	return true, nil
}

type staticRoles Roles

func (r staticRoles) ForumRoles(context.Context, *domain.User) (Roles, error) {
	return Roles(r), nil
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(ServiceConfig{
		Secret:       testSecret,
		DiscourseURL: "https://forum.example.org",
	}, opts...)
	require.NoError(t, err)
	return s
}

func signedPayload(p Payload, secret []byte) (string, string) {
	token := p.Encode()
	return token, Sign(token, secret)
}

func TestNewServiceConfiguration(t *testing.T) {
	_, err := NewService(ServiceConfig{DiscourseURL: "https://forum.example.org"})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrSecretNotConfigured)

	_, err = NewService(ServiceConfig{Secret: testSecret, DiscourseURL: "ftp://forum.example.org"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewService(ServiceConfig{Secret: testSecret, AllowedReturnOrigins: []string{"not a url"}})
	assert.ErrorIs(t, err, ErrConfiguration)

	s, err := NewService(ServiceConfig{Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, DefaultDiscourseURL, s.DiscourseURL())
	assert.Equal(t, defaultNonceTTL, s.nonceTTL)
}

func TestValidateRequestRejections(t *testing.T) {
	s := newTestService(t)
	valid := Payload{Nonce: "abc", Email: "jane@example.com", Username: "jane_doe"}
	token, sig := signedPayload(valid, testSecret)

	garbage := "!!!not-base64!!!"
	incompleteToken, incompleteSig := signedPayload(Payload{Nonce: "abc", Email: "jane@example.com"}, testSecret)

	testCases := []struct {
		name    string
		sso     string
		sig     string
		wantErr error
	}{
		{"missing sso", "", sig, ErrMissingParameters},
		{"missing sig", token, "", ErrMissingParameters},
		{"wrong secret", token, Sign(token, []byte("wrongsecret")), ErrInvalidSignature},
		{"non-hex sig", token, "not-hex", ErrInvalidSignature},
		{"signature of another token", token, incompleteSig, ErrInvalidSignature},
		{"invalid base64 with valid sig", garbage, Sign(garbage, testSecret), ErrMalformedPayload},
		{"missing username", incompleteToken, incompleteSig, ErrIncompletePayload},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := s.ValidateRequest(context.Background(), tc.sso, tc.sig)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, IsRejection(err))
			assert.Nil(t, ValidateSSORequest(tc.sso, tc.sig, testSecret))
		})
	}
}

func TestValidateRequestAccepts(t *testing.T) {
	s := newTestService(t)
	want := Payload{
		Nonce:        "abc",
		Email:        "jane@example.com",
		Username:     "jane_doe",
		ReturnSSOURL: "https://forum.example.org/session/sso_login",
	}
	token, sig := signedPayload(want, testSecret)

	got, err := s.ValidateRequest(context.Background(), token, sig)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	assert.Equal(t, &want, ValidateSSORequest(token, sig, testSecret))
	assert.Nil(t, ValidateSSORequest(token, sig, nil), "an empty secret never validates")
}

func TestValidateRequestDoesNotDecodeBeforeVerifying(t *testing.T) {
	s := newTestService(t)
	// Undecodable token with a forged signature must fail on the signature.
	_, err := s.ValidateRequest(context.Background(), "%%%", Sign("%%%", []byte("attacker")))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}

func TestValidateRequestRejectsReplayedNonce(t *testing.T) {
	s := newTestService(t, WithNonceStore(&mapNonceStore{}))
	token, sig := signedPayload(Payload{Nonce: "once", Email: "jane@example.com", Username: "jane_doe"}, testSecret)

	_, err := s.ValidateRequest(context.Background(), token, sig)
	require.NoError(t, err)

	_, err = s.ValidateRequest(context.Background(), token, sig)
	assert.ErrorIs(t, err, ErrNonceReplayed)
	assert.True(t, IsRejection(err))
}

func TestCheckRequestLeavesNonceUnclaimed(t *testing.T) {
	s := newTestService(t, WithNonceStore(&mapNonceStore{}))
	token, sig := signedPayload(Payload{Nonce: "later", Email: "jane@example.com", Username: "jane_doe"}, testSecret)

	for i := 0; i < 2; i++ {
		p, err := s.CheckRequest(context.Background(), token, sig)
		require.NoError(t, err)
		assert.Equal(t, "later", p.Nonce)
	}

	_, err := s.ValidateRequest(context.Background(), token, sig)
	require.NoError(t, err)

	_, err = s.CheckRequest(context.Background(), token, Sign(token, []byte("wrongsecret")))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestConsumeNonce(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, newTestService(t).ConsumeNonce(ctx, "n1"), "no store means nothing to consume")

	s := newTestService(t, WithNonceStore(&mapNonceStore{}))
	require.NoError(t, s.ConsumeNonce(ctx, "n1"))
	err := s.ConsumeNonce(ctx, "n1")
	assert.ErrorIs(t, err, ErrNonceReplayed)

	token, sig := signedPayload(Payload{Nonce: "n1", Email: "jane@example.com", Username: "jane_doe"}, testSecret)
	_, err = s.ValidateRequest(ctx, token, sig)
	assert.ErrorIs(t, err, ErrNonceReplayed, "ValidateRequest shares the inbound nonce space")
}

func TestValidateRequestNonceStoreFailure(t *testing.T) {
	store := new(MockNonceStore)
	store.On("Claim", mock.Anything, "inbound:abc", 2*time.Minute).Return(false, errors.New("redis down")).Once()

	s, err := NewService(ServiceConfig{Secret: testSecret, NonceTTL: 2 * time.Minute}, WithNonceStore(store))
	require.NoError(t, err)

	token, sig := signedPayload(Payload{Nonce: "abc", Email: "jane@example.com", Username: "jane_doe"}, testSecret)
	_, err = s.ValidateRequest(context.Background(), token, sig)
	require.Error(t, err)
	assert.False(t, IsRejection(err), "store outages are not client rejections")
	store.AssertExpectations(t)
}

func TestGenerateURLEndToEnd(t *testing.T) {
	s := newTestService(t)

	redirect, err := s.GenerateURL(context.Background(), janeDoe, "")
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "forum.example.org", u.Host)
	assert.Equal(t, "/session/sso_provider", u.Path)
	assert.NotContains(t, u.Query(), "return_sso_url")

	sso, sig := u.Query().Get("sso"), u.Query().Get("sig")
	p, err := DecodePayload(sso)
	require.NoError(t, err)
	assert.Equal(t, "42", p.ExternalID)
	assert.Equal(t, "jane_doe", p.Username)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Equal(t, "Jane Doe", p.Name)
	assert.False(t, p.Admin)
	assert.False(t, p.Moderator)
	assert.Regexp(t, "^[0-9a-f]{32}$", p.Nonce)

	ok, err := Verify(sso, sig, []byte("topsecret"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Verify(sso, sig, []byte("wrongsecret"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateURLFreshNonces(t *testing.T) {
	s := newTestService(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		redirect, err := s.GenerateURL(context.Background(), janeDoe, "")
		require.NoError(t, err)
		u, _ := url.Parse(redirect)
		p, err := DecodePayload(u.Query().Get("sso"))
		require.NoError(t, err)
		assert.False(t, seen[p.Nonce], "nonce reused")
		seen[p.Nonce] = true
	}
}

func TestGenerateURLRegeneratesCollidingNonce(t *testing.T) {
	first := bytes.Repeat([]byte{0x01}, nonceBytes)
	second := bytes.Repeat([]byte{0x02}, nonceBytes)
	random := bytes.NewReader(append(append(append([]byte{}, first...), first...), second...))

	store := &mapNonceStore{}
	s := newTestService(t, WithNonceStore(store), WithRandom(random))

	_, err := s.GenerateURL(context.Background(), janeDoe, "")
	require.NoError(t, err)

	redirect, err := s.GenerateURL(context.Background(), janeDoe, "")
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	p, err := DecodePayload(u.Query().Get("sso"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("02", nonceBytes), p.Nonce)
}

func TestGenerateURLRandomFailure(t *testing.T) {
	s := newTestService(t, WithRandom(bytes.NewReader(nil)))
	_, err := s.GenerateURL(context.Background(), janeDoe, "")
	assert.Error(t, err)
}

func TestGenerateURLReturnURL(t *testing.T) {
	s, err := NewService(ServiceConfig{
		Secret:               testSecret,
		DiscourseURL:         "https://forum.example.org/",
		AllowedReturnOrigins: []string{"https://talk.example.org"},
	})
	require.NoError(t, err)

	testCases := []struct {
		name      string
		returnURL string
		allowed   bool
	}{
		{"forum origin", "https://forum.example.org/session/sso_login", true},
		{"explicit default port", "https://FORUM.example.org:443/latest", true},
		{"extra allowed origin", "https://talk.example.org/t/welcome", true},
		{"foreign host", "https://evil.example.com/phish", false},
		{"scheme downgrade", "http://forum.example.org/", false},
		{"relative", "/session/sso_login", false},
		{"protocol relative", "//evil.example.com", false},
		{"javascript", "javascript:alert(1)", false},
		{"userinfo", "https://forum.example.org@evil.example.com/", false},
		{"header injection", "https://forum.example.org/\r\nSet-Cookie: x", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			redirect, err := s.GenerateURL(context.Background(), janeDoe, tc.returnURL)
			if !tc.allowed {
				assert.ErrorIs(t, err, ErrReturnURLNotAllowed)
				assert.Empty(t, redirect)
				return
			}
			require.NoError(t, err)
			u, err := url.Parse(redirect)
			require.NoError(t, err)
			assert.Equal(t, "/session/sso_provider", u.Path)
			assert.Equal(t, tc.returnURL, u.Query().Get("return_sso_url"))
		})
	}
}

func TestGenerateURLRoleLookupAndWelcomeFlag(t *testing.T) {
	s, err := NewService(
		ServiceConfig{Secret: testSecret, SuppressWelcomeMessage: true},
		WithRoleLookup(staticRoles{Moderator: true}),
	)
	require.NoError(t, err)

	redirect, err := s.GenerateURL(context.Background(), janeDoe, "")
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	p, err := DecodePayload(u.Query().Get("sso"))
	require.NoError(t, err)
	assert.True(t, p.SuppressWelcomeMessage)
	assert.True(t, p.Moderator)
	assert.False(t, p.Admin)
}

func TestStoredRoles(t *testing.T) {
	s := newTestService(t, WithRoleLookup(StoredRoles{}))
	admin := &domain.User{ID: "7", Email: "root@example.com", Roles: []string{domain.RoleAdmin}}

	redirect, err := s.GenerateURL(context.Background(), admin, "")
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	p, err := DecodePayload(u.Query().Get("sso"))
	require.NoError(t, err)
	assert.True(t, p.Admin)
	assert.False(t, p.Moderator)
}

func TestGenerateURLWithoutUser(t *testing.T) {
	s := newTestService(t)
	_, err := s.GenerateURL(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGenerateSSOURL(t *testing.T) {
	redirect, err := GenerateSSOURL("https://forum.example.org", testSecret, janeDoe, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirect, "https://forum.example.org/session/sso_provider?"))

	_, err = GenerateSSOURL("https://forum.example.org", nil, janeDoe, "")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "invalid_signature", RejectionReason(ErrInvalidSignature))
	assert.Equal(t, "malformed_payload", RejectionReason(errors.Join(errors.New("x"), ErrMalformedPayload)))
	assert.Equal(t, "configuration", RejectionReason(ErrConfiguration))
	assert.Equal(t, "internal", RejectionReason(errors.New("other")))
	assert.False(t, IsRejection(ErrConfiguration))
}
