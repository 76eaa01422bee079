package echo

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pilab.hu/forumsso"
	"go.pilab.hu/forumsso/domain"
	ssoerrors "go.pilab.hu/forumsso/errors"
	"go.pilab.hu/forumsso/internal/audit"
	"go.pilab.hu/forumsso/internal/metrics"
	"go.pilab.hu/forumsso/log"
)

// SSOPath is where Discourse sends members for authentication.
const SSOPath = "/api/discourse/sso"

// SSOService is the part of forumsso.Service the HTTP layer needs.
type SSOService interface {
	CheckRequest(ctx context.Context, sso, sig string) (*forumsso.Payload, error)
	GenerateURL(ctx context.Context, user *domain.User, returnURL string) (string, error)
	ConsumeNonce(ctx context.Context, nonce string) error
}

// HealthCheck reports an unhealthy dependency by returning an error.
type HealthCheck func(ctx context.Context) error

// DiscourseAPI serves the Discourse SSO endpoint and operational routes.
type DiscourseAPI struct {
	service  SSOService
	loginURL string
	checks   map[string]HealthCheck
	logger   log.Logger
}

// NewDiscourseAPI wires the handlers. A nil service means SSO is not configured
// and the endpoint answers 500 until it is.
func NewDiscourseAPI(service SSOService, loginURL string, logger log.Logger) *DiscourseAPI {
	if logger == nil {
		logger = log.NewNop()
	}
	return &DiscourseAPI{
		service:  service,
		loginURL: loginURL,
		checks:   make(map[string]HealthCheck),
		logger:   logger,
	}
}

// AddHealthCheck registers a named dependency check for /healthz.
func (a *DiscourseAPI) AddHealthCheck(name string, check HealthCheck) {
	a.checks[name] = check
}

// RegisterRoutes registers the SSO and operational routes. ssoMiddleware, such
// as the session lookup, applies to the SSO route only so health checks keep
// answering when the session store is down.
func (a *DiscourseAPI) RegisterRoutes(e *echo.Echo, ssoMiddleware ...echo.MiddlewareFunc) {
	e.GET(SSOPath, a.SSOHandler, ssoMiddleware...)
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// SSOHandler validates the inbound request from Discourse and redirects the
// signed-in member back with their identity. Rejections never say which check failed.
func (a *DiscourseAPI) SSOHandler(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.SSOHandshakeDuration.Observe(time.Since(start).Seconds()) }()

	ctx := c.Request().Context()
	if a.service == nil {
		metrics.RecordOutcome(metrics.OutcomeError)
		a.logger.Error(ctx, "Discourse SSO requested but not configured", forumsso.ErrSecretNotConfigured)
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewNotConfigured())
	}

	sso, sig := c.QueryParam("sso"), c.QueryParam("sig")
	user, signedIn := domain.UserFromContext(ctx)

	// The nonce is consumed only once the redirect is built: anonymous visitors
	// come back to this URL after signing in, and a failed attempt can be retried.
	payload, err := a.service.CheckRequest(ctx, sso, sig)
	if err != nil {
		return a.validationFailed(c, user, err)
	}

	if !signedIn {
		return a.redirectToLogin(c)
	}

	returnURL := c.QueryParam("return_sso_url")
	if returnURL == "" {
		returnURL = payload.ReturnSSOURL
	}

	redirect, err := a.service.GenerateURL(ctx, user, returnURL)
	switch {
	case errors.Is(err, forumsso.ErrReturnURLNotAllowed):
		reason := forumsso.RejectionReason(err)
		metrics.RecordRejection(reason)
		audit.Log(audit.ActionSSORejected, user.ID, "", reason, false, nil)
		a.logger.Warn(ctx, "Discourse SSO return URL rejected", map[string]interface{}{
			"reason":  reason,
			"user_id": user.ID,
		})
		return c.JSON(http.StatusBadRequest, ssoerrors.NewAuthenticationFailed())
	case err != nil:
		metrics.RecordOutcome(metrics.OutcomeError)
		a.logger.Error(ctx, "Failed to generate Discourse SSO redirect", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("failed to generate SSO redirect"))
	}

	if err := a.service.ConsumeNonce(ctx, payload.Nonce); err != nil {
		return a.validationFailed(c, user, err)
	}

	metrics.RecordOutcome(metrics.OutcomeRedirected)
	audit.Log(audit.ActionSSOLogin, user.ID, redirectHost(redirect), "", true, nil)
	a.logger.Info(ctx, "Discourse SSO completed", map[string]interface{}{"user_id": user.ID})
	return c.Redirect(http.StatusFound, redirect)
}

func (a *DiscourseAPI) validationFailed(c echo.Context, user *domain.User, err error) error {
	ctx := c.Request().Context()
	if forumsso.IsRejection(err) {
		reason := forumsso.RejectionReason(err)
		metrics.RecordRejection(reason)
		audit.Log(audit.ActionSSORejected, userID(user), "", reason, false, nil)
		return c.JSON(http.StatusBadRequest, ssoerrors.NewAuthenticationFailed())
	}
	metrics.RecordOutcome(metrics.OutcomeError)
	a.logger.Error(ctx, "Discourse SSO validation failed", err)
	return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("SSO validation failed"))
}

func (a *DiscourseAPI) redirectToLogin(c echo.Context) error {
	metrics.RecordOutcome(metrics.OutcomeLoginRequired)
	if a.loginURL == "" {
		return c.JSON(http.StatusUnauthorized, ssoerrors.NewUnauthenticated())
	}

	login, err := url.Parse(a.loginURL)
	if err != nil {
		a.logger.Error(c.Request().Context(), "Invalid login URL", err)
		return c.JSON(http.StatusUnauthorized, ssoerrors.NewUnauthenticated())
	}
	q := login.Query()
	q.Set("callbackUrl", c.Request().URL.RequestURI())
	login.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, login.String())
}

func userID(user *domain.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}

func redirectHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

type healthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

// HealthHandler runs every registered check and answers 503 naming the failures.
func (a *DiscourseAPI) HealthHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	var failed []string
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			a.logger.Warn(ctx, "Health check failed", map[string]interface{}{
				"check": name,
				"error": err.Error(),
			})
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Failed: failed})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
