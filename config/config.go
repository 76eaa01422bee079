package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go.pilab.hu/forumsso"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NonceStoreType selects where handshake nonces are remembered.
type NonceStoreType string

const (
	NonceStoreMemory NonceStoreType = "memory"
	NonceStoreRedis  NonceStoreType = "redis"
	NonceStoreNone   NonceStoreType = "none"
)

// ServerConfig holds all configuration for the bridge server.
// Tags use mapstructure for Viper unmarshalling; keys double as environment variable names.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`

	DiscourseSSOSecret       string   `mapstructure:"DISCOURSE_SSO_SECRET"`
	DiscourseURL             string   `mapstructure:"DISCOURSE_URL"`
	DiscourseReturnOrigins   []string `mapstructure:"DISCOURSE_ALLOWED_RETURN_ORIGINS"`
	DiscourseSuppressWelcome bool     `mapstructure:"DISCOURSE_SUPPRESS_WELCOME"`
	DiscourseSyncRoles       bool     `mapstructure:"DISCOURSE_SYNC_ROLES"`

	NonceStore NonceStoreType `mapstructure:"NONCE_STORE"`
	NonceTTL   time.Duration  `mapstructure:"NONCE_TTL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	SessionCookieNames []string `mapstructure:"SESSION_COOKIE_NAMES"`
	LoginURL           string   `mapstructure:"LOGIN_URL"`
}

// Load reads configuration from an optional file, environment variables and defaults.
// An empty configFile searches the usual locations for config.yaml.
func Load(configFile string) (*ServerConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/forumsso/")
		v.AddConfigPath("$HOME/.forumsso")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Every key needs a default, otherwise Unmarshal ignores its env var.
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "forumsso")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("DISCOURSE_SSO_SECRET", "")
	v.SetDefault("DISCOURSE_URL", forumsso.DefaultDiscourseURL)
	v.SetDefault("DISCOURSE_ALLOWED_RETURN_ORIGINS", []string{})
	v.SetDefault("DISCOURSE_SUPPRESS_WELCOME", false)
	v.SetDefault("DISCOURSE_SYNC_ROLES", false)
	v.SetDefault("NONCE_STORE", string(NonceStoreMemory))
	v.SetDefault("NONCE_TTL", "10m")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "forumsso")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "community")
	v.SetDefault("SESSION_COOKIE_NAMES", []string{"__Secure-next-auth.session-token", "next-auth.session-token"})
	v.SetDefault("LOGIN_URL", "/auth/signin")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when searching; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.NonceStore = NonceStoreType(strings.ToLower(string(cfg.NonceStore)))
	cfg.DiscourseReturnOrigins = splitList(cfg.DiscourseReturnOrigins)
	cfg.SessionCookieNames = splitList(cfg.SessionCookieNames)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings the server cannot start without. A missing SSO
// secret is not one of them: the server starts and the SSO route reports
// itself unavailable.
func (c *ServerConfig) Validate() error {
	switch c.NonceStore {
	case NonceStoreMemory, NonceStoreNone:
	case NonceStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required when NONCE_STORE=redis", ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unknown NONCE_STORE %q", ErrInvalidConfig, c.NonceStore)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("%w: NONCE_TTL must be positive", ErrInvalidConfig)
	}
	if len(c.SessionCookieNames) == 0 {
		return fmt.Errorf("%w: SESSION_COOKIE_NAMES must name at least one cookie", ErrMissingConfig)
	}
	return nil
}

// SSO returns the orchestrator configuration. The secret is copied, never logged.
func (c *ServerConfig) SSO() forumsso.ServiceConfig {
	return forumsso.ServiceConfig{
		Secret:                 []byte(c.DiscourseSSOSecret),
		DiscourseURL:           c.DiscourseURL,
		AllowedReturnOrigins:   c.DiscourseReturnOrigins,
		NonceTTL:               c.NonceTTL,
		SuppressWelcomeMessage: c.DiscourseSuppressWelcome,
	}
}

// splitList flattens comma separated entries, which is how lists arrive from
// environment variables, and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
