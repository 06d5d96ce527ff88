package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/facturio/backend/internal/infrastructure/billing"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Stripe     billing.StripeConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Swagger    SwaggerConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig holds settings for verifying the identity provider's tokens.
// Tokens are issued externally; this service only validates them.
type AuthConfig struct {
	// JWTSecret is the HS256 secret shared with the identity provider
	JWTSecret string

	// Issuer is the expected iss claim; empty disables the issuer check
	Issuer string

	// DevHeaderEnabled allows the X-User-ID header to stand in for a token.
	// Never enabled in production.
	DevHeaderEnabled bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64 // request body cap for document uploads
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	PresignExpiration time.Duration
}

// ExtractionConfig holds settings for the external AI extraction API
type ExtractionConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// SwaggerConfig holds Swagger documentation endpoint configuration
type SwaggerConfig struct {
	Enabled     bool
	RequireAuth bool
	AllowedIPs  []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with FACTURIO_ prefix (e.g., FACTURIO_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	// A missing config file is fine, defaults and env vars cover it.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FACTURIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret:        v.GetString("auth.jwt_secret"),
			Issuer:           v.GetString("auth.issuer"),
			DevHeaderEnabled: v.GetBool("auth.dev_header_enabled"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),

			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Stripe: billing.StripeConfig{
			SecretKey:       v.GetString("stripe.secret_key"),
			PublishableKey:  v.GetString("stripe.publishable_key"),
			WebhookSecret:   v.GetString("stripe.webhook_secret"),
			IsTestMode:      v.GetBool("stripe.is_test_mode"),
			DefaultCurrency: v.GetString("stripe.default_currency"),
		},
		Storage: StorageConfig{
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Extraction: ExtractionConfig{
			BaseURL:        v.GetString("extraction.base_url"),
			APIKey:         v.GetString("extraction.api_key"),
			TimeoutSeconds: v.GetInt("extraction.timeout_seconds"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func strDefault(target *string, def string) {
	if *target == "" {
		*target = def
	}
}

func intDefault(target *int, def int) {
	if *target == 0 {
		*target = def
	}
}

func durDefault(target *time.Duration, def time.Duration) {
	if *target == 0 {
		*target = def
	}
}

// applyDefaults fills any unset field with its built-in default. Zero is
// treated as "not set" throughout.
func applyDefaults(cfg *Config) {
	strDefault(&cfg.App.Name, "facturio-backend")
	strDefault(&cfg.App.Env, "development")
	strDefault(&cfg.App.Port, "8080")

	strDefault(&cfg.Database.Host, "localhost")
	intDefault(&cfg.Database.Port, 5432)
	strDefault(&cfg.Database.User, "postgres")
	strDefault(&cfg.Database.DBName, "facturio")
	strDefault(&cfg.Database.SSLMode, "disable")
	intDefault(&cfg.Database.MaxOpenConns, 25)
	intDefault(&cfg.Database.MaxIdleConns, 5)
	intDefault(&cfg.Database.ConnMaxLifetime, 60)
	intDefault(&cfg.Database.ConnMaxIdleTime, 30)

	strDefault(&cfg.Redis.Host, "localhost")
	intDefault(&cfg.Redis.Port, 6379)

	strDefault(&cfg.Log.Level, "info")
	strDefault(&cfg.Log.Format, "console")
	strDefault(&cfg.Log.Output, "stdout")

	durDefault(&cfg.HTTP.ReadTimeout, 15*time.Second)
	durDefault(&cfg.HTTP.WriteTimeout, 30*time.Second)
	durDefault(&cfg.HTTP.IdleTimeout, 60*time.Second)
	intDefault(&cfg.HTTP.MaxHeaderBytes, 1<<20)
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // fits phone photos
	}
	// CORS origins intentionally have no wildcard fallback; an empty list
	// means no cross-origin requests until explicitly configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	intDefault(&cfg.HTTP.RateLimitRequests, 120)
	durDefault(&cfg.HTTP.RateLimitWindow, time.Minute)

	strDefault(&cfg.Stripe.DefaultCurrency, "eur")

	strDefault(&cfg.Storage.Bucket, "facturio-documents")
	durDefault(&cfg.Storage.PresignExpiration, 15*time.Minute)

	intDefault(&cfg.Extraction.TimeoutSeconds, 60)

	strDefault(&cfg.Telemetry.CollectorEndpoint, "localhost:4317")
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	strDefault(&cfg.Telemetry.ServiceName, "facturio-backend")
	durDefault(&cfg.Telemetry.DBSlowQueryThresh, 200*time.Millisecond)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		return c.validateProduction()
	}
	return nil
}

// validateProduction enforces the settings that must never ship loose:
// strong secrets, TLS to the database and no open debugging surfaces.
func (c *Config) validateProduction() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
	}
	if c.Auth.DevHeaderEnabled {
		return fmt.Errorf("auth.dev_header_enabled must be false in production")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("database.password is required in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database.sslmode cannot be 'disable' in production")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe.webhook_secret is required in production")
	}
	for _, origin := range c.HTTP.CORSAllowOrigins {
		if origin == "*" {
			return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
		}
	}
	if c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
		return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
