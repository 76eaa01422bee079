package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.pilab.hu/forumsso"
	ssoecho "go.pilab.hu/forumsso/api/echo"
	"go.pilab.hu/forumsso/cache"
	cacheredis "go.pilab.hu/forumsso/cache/redis"
	"go.pilab.hu/forumsso/config"
	"go.pilab.hu/forumsso/internal/metrics"
	"go.pilab.hu/forumsso/internal/server"
	"go.pilab.hu/forumsso/log"
	"go.pilab.hu/forumsso/middleware"
	"go.pilab.hu/forumsso/mongodb"
	"go.pilab.hu/forumsso/tracing"
)

var (
	appLogger      log.Logger
	httpServer     *http.Server
	tracerProvider *sdktrace.TracerProvider
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search for config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := log.ParseLevel(cfg.LogLevel)
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)
	if parseErr != nil {
		appLogger.Warn(context.Background(), "Invalid LOG_LEVEL configured, defaulting to 'info'", map[string]interface{}{
			"configured_log_level": cfg.LogLevel,
		})
	}

	ctx := context.Background()
	appLogger.Info(ctx, "Starting forumsso server...", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"discourse_url": cfg.DiscourseURL,
		"nonce_store":   string(cfg.NonceStore),
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     logLevel.String(),
	})

	if cfg.TracingEnabled {
		tracerProvider, err = tracing.InitTracerProvider(cfg.OtelServiceName, nil)
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err, nil)
		}
		appLogger.Info(ctx, "TracerProvider initialized.")
	}

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", err, nil)
	}
	db := mongodb.GetDB()
	sessionRepo := mongodb.NewSessionRepository(ctx, db)
	userRepo := mongodb.NewUserRepository(db)

	nonceStore, err := newNonceStore(ctx, cfg)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize nonce store", err, nil)
	}

	api := ssoecho.NewDiscourseAPI(newSSOService(ctx, cfg, nonceStore), cfg.LoginURL, appLogger)
	api.AddHealthCheck("mongodb", mongodb.Ping)
	if nonceStore != nil {
		api.AddHealthCheck("nonce_store", nonceStore.Health)
	}

	sessions := middleware.NewSessionAuthenticator(sessionRepo, userRepo, cfg.SessionCookieNames, appLogger)
	router := server.NewRouter(cfg, appLogger, api, sessions.Middleware())

	httpServer = server.NewHTTPServer(cfg, router)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
	}

	if nonceStore != nil {
		if err := nonceStore.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Nonce store close error", err, nil)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err, nil)
		}
	}

	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

// newSSOService returns nil when the secret is missing, which keeps the server
// up with the SSO route answering 500.
func newSSOService(ctx context.Context, cfg *config.ServerConfig, nonces cache.NonceStore) ssoecho.SSOService {
	opts := []forumsso.Option{forumsso.WithLogger(appLogger)}
	if nonces != nil {
		opts = append(opts, forumsso.WithNonceStore(nonces))
	}
	if cfg.DiscourseSyncRoles {
		opts = append(opts, forumsso.WithRoleLookup(forumsso.StoredRoles{}))
	}

	svc, err := forumsso.NewService(cfg.SSO(), opts...)
	if err != nil {
		appLogger.Error(ctx, "Discourse SSO is not configured, the SSO route will answer 500", err, nil)
		return nil
	}
	return svc
}

func newNonceStore(ctx context.Context, cfg *config.ServerConfig) (cache.NonceStore, error) {
	switch cfg.NonceStore {
	case config.NonceStoreNone:
		appLogger.Warn(ctx, "Nonce store disabled, replayed SSO requests will be accepted")
		return nil, nil
	case config.NonceStoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := cacheredis.NewNonceStore(client, cfg.RedisPrefix)
		if err := store.Health(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	default:
		return cache.NewMemoryNonceStore(cfg.NonceTTL), nil
	}
}
