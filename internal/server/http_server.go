package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	ssoecho "go.pilab.hu/forumsso/api/echo"
	"go.pilab.hu/forumsso/config"
	"go.pilab.hu/forumsso/log"
	"go.pilab.hu/forumsso/middleware"
)

// NewRouter builds the echo router with the ambient middleware chain.
// sessionMW resolves the local user on the SSO route and may be nil when no
// session store is available.
func NewRouter(cfg *config.ServerConfig, appLogger log.Logger, api *ssoecho.DiscourseAPI, sessionMW echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(otelecho.Middleware(cfg.OtelServiceName))
	e.Use(requestLogger(appLogger))
	e.Use(middleware.SecurityHeaders())

	if sessionMW != nil {
		api.RegisterRoutes(e, sessionMW)
	} else {
		api.RegisterRoutes(e)
	}

	return e
}

// NewHTTPServer wraps the router in an http.Server with timeouts.
func NewHTTPServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// requestLogger logs one line per request. The query string is left out since
// it carries signed SSO payloads.
func requestLogger(appLogger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := map[string]interface{}{
				"method":     req.Method,
				"path":       req.URL.Path,
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"user_agent": req.UserAgent(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if err != nil {
				appLogger.Error(req.Context(), "HTTP Request", err, fields)
			} else {
				appLogger.Info(req.Context(), "HTTP Request", fields)
			}

			return nil
		}
	}
}
