// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Touch targets select which session Touch updates on authenticated requests.
const (
	// TouchTargetLatest updates the most recently created session regardless of its active flag.
	TouchTargetLatest = "latest"
	// TouchTargetActive updates only the user's active session.
	TouchTargetActive = "active"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty outside production, an in-memory store is used.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret is the shared HMAC secret for access tokens. Required in production (>= 32 bytes).
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim stamped on and required from access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// AccessTokenTTL is the access token lifetime (e.g. "30m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "168h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// RefreshTokenBytes is the entropy of opaque refresh secrets (32–64).
	RefreshTokenBytes int `mapstructure:"REFRESH_TOKEN_BYTES"`
	// AccountTokenTTL bounds confirmation and password-reset codes (e.g. "24h").
	AccountTokenTTL string `mapstructure:"ACCOUNT_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// TouchTarget is "latest" (most recently created session) or "active".
	TouchTarget string `mapstructure:"TOUCH_TARGET"`
	// StoreTimeout bounds every store transaction (e.g. "5s").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`

	// GeoIPBaseURL is the ip-api compatible lookup endpoint; empty disables geolocation.
	GeoIPBaseURL string `mapstructure:"GEOIP_BASE_URL"`
	// GeoIPTimeout bounds one geolocation lookup (e.g. "2s").
	GeoIPTimeout string `mapstructure:"GEOIP_TIMEOUT"`

	// CookieSecure sets the Secure attribute on credential cookies.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// CookieDomain is the optional Domain attribute on credential cookies.
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// CORSAllowedOrigins is a comma-separated list of allowed browser origins.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// LoginRateLimitRPS and LoginRateLimitBurst configure the per-IP limiter on login and refresh.
	LoginRateLimitRPS   float64 `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int     `mapstructure:"LOGIN_RATE_LIMIT_BURST"`

	// SMTP settings for account confirmation and password reset mail. Empty host disables sending.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`
	// FrontendBaseURL is used to build links in account mails.
	FrontendBaseURL string `mapstructure:"FRONTEND_BASE_URL"`

	// LogLevel is the zerolog level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of brokers for the auth event stream; empty disables it.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth events.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker forwards auth events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// SweepSchedule is a cron spec for deleting expired refresh and blacklist rows; empty disables the sweep.
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "pharma-auth")
	v.SetDefault("ACCESS_TOKEN_TTL", "30m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h") // 7d
	v.SetDefault("REFRESH_TOKEN_BYTES", 32)
	v.SetDefault("ACCOUNT_TOKEN_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("TOUCH_TARGET", TouchTargetLatest)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("GEOIP_BASE_URL", "http://ip-api.com/json")
	v.SetDefault("GEOIP_TIMEOUT", "2s")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:4200")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1.0)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:4200")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "pharma-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "pharma-auth-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("SWEEP_SCHEDULE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.RefreshTokenBytes == 0 {
		cfg.RefreshTokenBytes = 32
	}
	if cfg.RefreshTokenBytes < 32 || cfg.RefreshTokenBytes > 64 {
		return nil, errors.New("config: REFRESH_TOKEN_BYTES must be between 32 and 64")
	}

	cfg.TouchTarget = strings.ToLower(strings.TrimSpace(cfg.TouchTarget))
	if cfg.TouchTarget == "" {
		cfg.TouchTarget = TouchTargetLatest
	}
	if cfg.TouchTarget != TouchTargetLatest && cfg.TouchTarget != TouchTargetActive {
		return nil, errors.New("config: TOUCH_TARGET must be latest or active")
	}

	if cfg.IsProduction() {
		if len(cfg.JWTSecret) < 32 {
			return nil, errors.New("config: JWT_SECRET must be at least 32 bytes when APP_ENV=production")
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
		}
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parsePositive(c.AccessTokenTTL, 30*time.Minute)
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parsePositive(c.RefreshTokenTTL, 168*time.Hour)
}

// AccountTTL parses AccountTokenTTL. Returns 24h if unset or invalid.
func (c *Config) AccountTTL() time.Duration {
	return parsePositive(c.AccountTokenTTL, 24*time.Hour)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 5s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parsePositive(c.StoreTimeout, 5*time.Second)
}

// GeoIPTimeoutDuration parses GeoIPTimeout. Returns 2s if unset or invalid.
func (c *Config) GeoIPTimeoutDuration() time.Duration {
	return parsePositive(c.GeoIPTimeout, 2*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed CORS origins from the comma-separated config.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func parsePositive(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
