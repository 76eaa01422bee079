package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/forumsso/domain"
	ssoerrors "go.pilab.hu/forumsso/errors"
	"go.pilab.hu/forumsso/log"
)

// SessionAuthenticator resolves the local user from the community app's session cookie.
type SessionAuthenticator struct {
	sessions    domain.SessionRepository
	users       domain.UserRepository
	cookieNames []string
	logger      log.Logger
	now         func() time.Time
}

// NewSessionAuthenticator checks cookieNames in order; the first one present wins.
func NewSessionAuthenticator(
	sessions domain.SessionRepository,
	users domain.UserRepository,
	cookieNames []string,
	logger log.Logger,
) *SessionAuthenticator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &SessionAuthenticator{
		sessions:    sessions,
		users:       users,
		cookieNames: cookieNames,
		logger:      logger,
		now:         time.Now,
	}
}

// Authenticate returns the user behind the request's session cookie. A missing,
// unknown or expired session yields (nil, nil); only lookup failures are errors.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*domain.User, error) {
	token := a.sessionToken(r)
	if token == "" {
		return nil, nil
	}

	session, err := a.sessions.GetSessionByToken(ctx, token)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if session.Expired(a.now()) {
		a.logger.Debug(ctx, "Session expired", map[string]interface{}{"user_id": session.UserID})
		return nil, nil
	}

	user, err := a.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		a.logger.Warn(ctx, "Session refers to a missing user", map[string]interface{}{"user_id": session.UserID})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	return user, nil
}

// Middleware stores the authenticated user, if any, in the request context.
// Anonymous requests pass through; handlers decide what to do with them.
func (a *SessionAuthenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			user, err := a.Authenticate(req.Context(), req)
			if err != nil {
				a.logger.Error(req.Context(), "Session lookup failed", err)
				return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("session lookup failed"))
			}
			if user != nil {
				c.SetRequest(req.WithContext(domain.ContextWithUser(req.Context(), user)))
			}

			return next(c)
		}
	}
}

func (a *SessionAuthenticator) sessionToken(r *http.Request) string {
	for _, name := range a.cookieNames {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}
