package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Meta        MetaConfig        `yaml:"meta"`
	Attribution AttributionConfig `yaml:"attribution"`
	Dedupe      DedupeConfig      `yaml:"dedupe"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Site        SiteConfig        `yaml:"site"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port                   int      `yaml:"port" env:"PORT"`
	Host                   string   `yaml:"host" env:"SERVER_HOST"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// MetaConfig holds Conversions API credentials and endpoint
type MetaConfig struct {
	BaseURL        string `yaml:"base_url" env:"META_BASE_URL"`
	APIVersion     string `yaml:"api_version" env:"META_API_VERSION"`
	PixelID        string `yaml:"pixel_id" env:"META_PIXEL_ID"`
	AccessToken    string `yaml:"access_token" env:"META_ACCESS_TOKEN"`
	TestEventCode  string `yaml:"test_event_code" env:"META_TEST_EVENT_CODE"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c MetaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AttributionConfig holds first-party cookie and PII normalization settings
type AttributionConfig struct {
	// Domains are the registrable domains identifier cookies are scoped to.
	Domains            []string `yaml:"domains" env:"COOKIE_DOMAINS" envSeparator:","`
	DefaultCountryCode string   `yaml:"default_country_code" env:"DEFAULT_COUNTRY_CODE"`
}

// DedupeConfig controls server-side event id deduplication
type DedupeConfig struct {
	Enabled    bool `yaml:"enabled" env:"DEDUPE_ENABLED"`
	TTLMinutes int  `yaml:"ttl_minutes"`
}

func (c DedupeConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RedisConfig holds the optional Redis connection. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the optional Postgres connection used for delivery
// diagnostics. Empty URL disables it.
type DatabaseConfig struct {
	URL          string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TelemetryConfig holds OpenTelemetry tracing settings
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"OTEL_ENABLED"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment" env:"APP_ENV"`
}

// SiteConfig holds static site settings
type SiteConfig struct {
	Root      string            `yaml:"root" env:"SITE_ROOT"`
	Redirects map[string]string `yaml:"redirects"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 15
	}
	if cfg.Meta.BaseURL == "" {
		cfg.Meta.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v21.0"
	}
	if cfg.Meta.TimeoutSeconds == 0 {
		cfg.Meta.TimeoutSeconds = 10
	}
	if cfg.Attribution.DefaultCountryCode == "" {
		cfg.Attribution.DefaultCountryCode = "52"
	}
	if cfg.Dedupe.TTLMinutes == 0 {
		cfg.Dedupe.TTLMinutes = 60 * 24
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 5
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "capi-gateway"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Site.Root == "" {
		cfg.Site.Root = "./public"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.RedactPII == nil {
		redact := true
		cfg.Logging.RedactPII = &redact
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so the access token can live in .env locally and in real env vars in
// production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration that would make the gateway drop every
// event.
func (cfg *Config) Validate() error {
	if cfg.Meta.PixelID == "" {
		return fmt.Errorf("config: meta.pixel_id (META_PIXEL_ID) is required")
	}
	if cfg.Meta.AccessToken == "" {
		return fmt.Errorf("config: meta.access_token (META_ACCESS_TOKEN) is required")
	}
	return nil
}
