// Package config loads catalogd configuration from environment
// variables, with an optional YAML file for the identity provider block.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/sso"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Uploads       UploadsConfig
	Sessions      SessionsConfig
	Auth          AuthConfig
	Provider      sso.ProviderConfig
	Janitor       JanitorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the SQL backend. Driver is "sqlite3" or
// "postgres"; DSN is passed straight to sql.Open.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// UploadsConfig selects the image artifact backend.
type UploadsConfig struct {
	// Backend is "filesystem" or "s3".
	Backend string

	// Filesystem backend.
	Dir string

	// S3 backend.
	S3 uploads.S3Config
}

// SessionsConfig selects the session backend.
type SessionsConfig struct {
	// Backend is "sql" or "redis". The sql backend shares the catalog
	// database.
	Backend  string
	RedisURL string
	TTL      time.Duration
}

// AuthConfig holds the local admin credential. PasswordHash takes
// precedence over Password when both are set.
type AuthConfig struct {
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string
	SecureCookies     bool
}

// JanitorConfig drives the background maintenance schedules.
type JanitorConfig struct {
	Enabled bool
	// SessionPurgeSchedule and OrphanSweepSchedule are cron expressions.
	SessionPurgeSchedule string
	OrphanSweepSchedule  string
	// OrphanGrace keeps freshly written files out of the orphan sweep.
	OrphanGrace time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables. When
// CATALOGD_PROVIDER_FILE is set, the identity provider block is read
// from that YAML file first and individual env vars override it.
func LoadConfig() (*Config, error) {
	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Uploads:       loadUploadsConfig(),
		Sessions:      loadSessionsConfig(),
		Auth:          loadAuthConfig(),
		Provider:      provider,
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CATALOGD_HOST", "0.0.0.0"),
		Port:            getEnv("CATALOGD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CATALOGD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CATALOGD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CATALOGD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CATALOGD_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: getEnv("CATALOGD_DB_DRIVER", "sqlite3"),
		DSN:    getEnv("CATALOGD_DB_DSN", "catalog.db"),
	}
}

func loadUploadsConfig() UploadsConfig {
	return UploadsConfig{
		Backend: getEnv("CATALOGD_UPLOADS_BACKEND", "filesystem"),
		Dir:     getEnv("CATALOGD_UPLOADS_DIR", "uploads"),
		S3: uploads.S3Config{
			Endpoint:     getEnv("CATALOGD_S3_ENDPOINT", ""),
			Region:       getEnv("CATALOGD_S3_REGION", "us-east-1"),
			Bucket:       getEnv("CATALOGD_S3_BUCKET", ""),
			AccessKey:    getEnv("CATALOGD_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("CATALOGD_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("CATALOGD_S3_USE_PATH_STYLE", false),
			KeyPrefix:    getEnv("CATALOGD_S3_KEY_PREFIX", "uploads/"),
		},
	}
}

func loadSessionsConfig() SessionsConfig {
	return SessionsConfig{
		Backend:  getEnv("CATALOGD_SESSIONS_BACKEND", "sql"),
		RedisURL: getEnv("CATALOGD_REDIS_URL", "redis://localhost:6379/0"),
		TTL:      getEnvDuration("CATALOGD_SESSION_TTL", 24*time.Hour),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AdminUsername:     getEnv("CATALOGD_ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("CATALOGD_ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("CATALOGD_ADMIN_PASSWORD_HASH", ""),
		SecureCookies:     getEnvBool("CATALOGD_SECURE_COOKIES", false),
	}
}

func loadProviderConfig() (sso.ProviderConfig, error) {
	var cfg sso.ProviderConfig

	if path := getEnv("CATALOGD_PROVIDER_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read provider file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse provider file: %w", err)
		}
	}

	if v := getEnv("CATALOGD_OAUTH_CLIENT_ID", ""); v != "" {
		cfg.ClientID = v
	}
	if v := getEnv("CATALOGD_OAUTH_CLIENT_SECRET", ""); v != "" {
		cfg.ClientSecret = v
	}
	if v := getEnv("CATALOGD_OAUTH_REDIRECT_URL", ""); v != "" {
		cfg.RedirectURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_ISSUER_URL", ""); v != "" {
		cfg.IssuerURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_AUTH_URL", ""); v != "" {
		cfg.AuthURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_TOKEN_URL", ""); v != "" {
		cfg.TokenURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_INTROSPECT_URL", ""); v != "" {
		cfg.IntrospectURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_USERINFO_URL", ""); v != "" {
		cfg.UserinfoURL = v
	}
	if v := getEnv("CATALOGD_OAUTH_REVOKE_URL", ""); v != "" {
		cfg.RevokeURL = v
	}
	if v := getEnvDuration("CATALOGD_OAUTH_TIMEOUT", 0); v > 0 {
		cfg.Timeout = v
	}

	return cfg, nil
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Enabled:              getEnvBool("CATALOGD_JANITOR_ENABLED", true),
		SessionPurgeSchedule: getEnv("CATALOGD_SESSION_PURGE_SCHEDULE", "@every 15m"),
		OrphanSweepSchedule:  getEnv("CATALOGD_ORPHAN_SWEEP_SCHEDULE", "@hourly"),
		OrphanGrace:          getEnvDuration("CATALOGD_ORPHAN_GRACE", time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CATALOGD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CATALOGD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CATALOGD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CATALOGD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CATALOGD_OTEL_SERVICE_NAME", "catalogd"),
		OTelServiceVersion: getEnv("CATALOGD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CATALOGD_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	switch c.Uploads.Backend {
	case "filesystem":
		if c.Uploads.Dir == "" {
			return fmt.Errorf("uploads dir is required for filesystem uploads")
		}
	case "s3":
		if c.Uploads.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 uploads")
		}
	default:
		return fmt.Errorf("invalid uploads backend: %s (must be filesystem or s3)", c.Uploads.Backend)
	}

	switch c.Sessions.Backend {
	case "sql":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis sessions")
		}
	default:
		return fmt.Errorf("invalid sessions backend: %s (must be sql or redis)", c.Sessions.Backend)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Auth.AdminUsername == "" {
		return fmt.Errorf("admin username is required")
	}
	if c.Auth.AdminPassword == "" && c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("admin password or password hash is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
