package forumsso

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/forumsso/domain"
	"go.pilab.hu/forumsso/log"
)

const (
	// DefaultDiscourseURL is used when no forum base URL is configured.
	DefaultDiscourseURL = "https://community.example.org"

	providerPath = "/session/sso_provider"
	tracerName   = "go.pilab.hu/forumsso"
)

// ErrUnauthenticated is returned by GenerateURL when no local user is supplied.
var ErrUnauthenticated = errors.New("no authenticated user")

// ServiceConfig is resolved once at startup and injected into the Service.
type ServiceConfig struct {
	Secret                 []byte
	DiscourseURL           string
	AllowedReturnOrigins   []string
	NonceTTL               time.Duration
	SuppressWelcomeMessage bool
}

// Roles are the forum roles granted to a user.
type Roles struct {
	Admin     bool
	Moderator bool
}

// RoleLookup decides which forum roles a local user holds.
type RoleLookup interface {
	ForumRoles(ctx context.Context, user *domain.User) (Roles, error)
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithNonceStore enables replay protection for inbound nonces and uniqueness
// tracking for outbound ones.
func WithNonceStore(store NonceStore) Option {
	return func(s *Service) { s.nonces = store }
}

// WithRandom replaces crypto/rand as the nonce source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// WithLogger sets the logger used for rejected handshakes.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRoleLookup maps local users to forum roles. Without it, admin and
// moderator are always false.
func WithRoleLookup(r RoleLookup) Option {
	return func(s *Service) { s.roles = r }
}

// Service performs both legs of the Discourse SSO handshake. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	secret          []byte
	baseURL         *url.URL
	allowedOrigins  map[string]struct{}
	nonceTTL        time.Duration
	suppressWelcome bool

	nonces NonceStore
	random io.Reader
	roles  RoleLookup
	logger log.Logger
	tracer trace.Tracer
}

// NewService validates cfg and builds a Service. A missing secret is a
// configuration error; signing is never silently disabled.
func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, ErrSecretNotConfigured)
	}

	rawBase := strings.TrimSpace(cfg.DiscourseURL)
	if rawBase == "" {
		rawBase = DefaultDiscourseURL
	}
	base, err := parseAbsoluteURL(rawBase)
	if err != nil {
		return nil, fmt.Errorf("%w: DISCOURSE_URL: %v", ErrConfiguration, err)
	}

	s := &Service{
		secret:          append([]byte(nil), cfg.Secret...),
		baseURL:         base,
		allowedOrigins:  map[string]struct{}{origin(base): {}},
		nonceTTL:        cfg.NonceTTL,
		suppressWelcome: cfg.SuppressWelcomeMessage,
		random:          rand.Reader,
		logger:          log.NewNop(),
		tracer:          otel.Tracer(tracerName),
	}
	if s.nonceTTL <= 0 {
		s.nonceTTL = defaultNonceTTL
	}

	for _, raw := range cfg.AllowedReturnOrigins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := parseAbsoluteURL(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: allowed return origin %q: %v", ErrConfiguration, raw, err)
		}
		s.allowedOrigins[origin(u)] = struct{}{}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// DiscourseURL returns the configured forum base URL.
func (s *Service) DiscourseURL() string {
	return s.baseURL.String()
}

// ValidateRequest authenticates an inbound handshake and, when a nonce store is
// configured, consumes its nonce. The signature is checked before anything in
// the payload is decoded or trusted.
func (s *Service) ValidateRequest(ctx context.Context, sso, sig string) (*Payload, error) {
	ctx, span := s.tracer.Start(ctx, "forumsso.ValidateRequest")
	defer span.End()

	payload, err := validateToken(sso, sig, s.secret)
	if err == nil && s.nonces != nil {
		err = s.claimInbound(ctx, payload.Nonce)
	}
	if err != nil {
		s.reject(ctx, span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("sso.username", payload.Username))
	return payload, nil
}

// CheckRequest runs the same checks as ValidateRequest without consuming the
// nonce. It is used before sending an anonymous visitor to sign in, so the
// request can still be completed once they return.
func (s *Service) CheckRequest(ctx context.Context, sso, sig string) (*Payload, error) {
	ctx, span := s.tracer.Start(ctx, "forumsso.CheckRequest")
	defer span.End()

	payload, err := validateToken(sso, sig, s.secret)
	if err != nil {
		s.reject(ctx, span, err)
		return nil, err
	}
	return payload, nil
}

// ConsumeNonce marks an inbound nonce as used. Callers that validated with
// CheckRequest call it once the response is ready, so a failure while building
// the response leaves the request retryable. Without a nonce store it is a no-op.
func (s *Service) ConsumeNonce(ctx context.Context, nonce string) error {
	if s.nonces == nil {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "forumsso.ConsumeNonce")
	defer span.End()

	if err := s.claimInbound(ctx, nonce); err != nil {
		s.reject(ctx, span, err)
		return err
	}
	return nil
}

func (s *Service) reject(ctx context.Context, span trace.Span, err error) {
	reason := RejectionReason(err)
	span.SetStatus(codes.Error, reason)
	s.logger.Warn(ctx, "Discourse SSO request rejected", map[string]interface{}{
		"reason": reason,
		"detail": err.Error(),
	})
}

// GenerateURL builds the signed redirect into Discourse for an authenticated user.
// returnURL is forwarded as return_sso_url when it belongs to an allowed origin.
func (s *Service) GenerateURL(ctx context.Context, user *domain.User, returnURL string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "forumsso.GenerateURL")
	defer span.End()

	if user == nil {
		return "", ErrUnauthenticated
	}
	if returnURL != "" && !s.ReturnURLAllowed(returnURL) {
		span.SetStatus(codes.Error, "return_url_not_allowed")
		return "", fmt.Errorf("%w: %s", ErrReturnURLNotAllowed, returnURL)
	}

	nonce, err := s.newOutboundNonce(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	payload := ProjectUser(user, nonce)
	payload.SuppressWelcomeMessage = s.suppressWelcome
	if s.roles != nil {
		roles, err := s.roles.ForumRoles(ctx, user)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("looking up forum roles: %w", err)
		}
		payload.Admin, payload.Moderator = roles.Admin, roles.Moderator
	}

	token := payload.Encode()

	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + providerPath
	u.RawPath = ""
	q := url.Values{}
	q.Set("sso", token)
	q.Set("sig", Sign(token, s.secret))
	if returnURL != "" {
		q.Set("return_sso_url", returnURL)
	}
	u.RawQuery = q.Encode()

	span.SetAttributes(attribute.String("sso.external_id", payload.ExternalID))
	s.logger.Debug(ctx, "Discourse SSO redirect generated", map[string]interface{}{
		"external_id": payload.ExternalID,
		"username":    payload.Username,
	})

	return u.String(), nil
}

// ReturnURLAllowed reports whether raw is an absolute http(s) URL on one of the
// allowed origins.
func (s *Service) ReturnURLAllowed(raw string) bool {
	if strings.ContainsAny(raw, "\r\n") {
		return false
	}
	u, err := parseAbsoluteURL(raw)
	if err != nil || u.User != nil {
		return false
	}
	_, ok := s.allowedOrigins[origin(u)]
	return ok
}

func (s *Service) claimInbound(ctx context.Context, nonce string) error {
	first, err := s.nonces.Claim(ctx, inboundNoncePrefix+nonce, s.nonceTTL)
	if err != nil {
		return fmt.Errorf("claiming inbound nonce: %w", err)
	}
	if !first {
		return ErrNonceReplayed
	}
	return nil
}

func (s *Service) newOutboundNonce(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxNonceAttempts; attempt++ {
		nonce, err := NewNonce(s.random)
		if err != nil {
			return "", err
		}
		if s.nonces == nil {
			return nonce, nil
		}
		first, err := s.nonces.Claim(ctx, outboundNoncePrefix+nonce, s.nonceTTL)
		if err != nil {
			return "", fmt.Errorf("recording outbound nonce: %w", err)
		}
		if first {
			return nonce, nil
		}
	}
	return "", errors.New("could not generate an unused nonce")
}

// validateToken runs the stateless inbound checks in order.
func validateToken(sso, sig string, secret []byte) (*Payload, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, ErrSecretNotConfigured)
	}
	if sso == "" || sig == "" {
		return nil, ErrMissingParameters
	}

	ok, err := Verify(sso, sig, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	payload, err := DecodePayload(sso)
	if err != nil {
		return nil, err
	}
	if err := payload.validateRequired(); err != nil {
		return nil, err
	}
	return payload, nil
}

// ValidateSSORequest checks an inbound handshake without replay protection and
// returns nil on any rejection.
func ValidateSSORequest(sso, sig string, secret []byte) *Payload {
	payload, err := validateToken(sso, sig, secret)
	if err != nil {
		return nil
	}
	return payload
}

// GenerateSSOURL builds a signed redirect for user with a one-off Service.
func GenerateSSOURL(discourseURL string, secret []byte, user *domain.User, returnURL string) (string, error) {
	s, err := NewService(ServiceConfig{Secret: secret, DiscourseURL: discourseURL})
	if err != nil {
		return "", err
	}
	return s.GenerateURL(context.Background(), user, returnURL)
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func origin(u *url.URL) string {
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	return u.Scheme + "://" + host
}
