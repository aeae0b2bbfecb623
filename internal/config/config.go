package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the tracking service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Tracking   TrackingConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional event mirror.
type ClickHouseConfig struct {
	Enabled bool
	DSN     string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	TrackRPS   float64
	TrackBurst int
	AdminRPS   float64
	AdminBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// TrackingConfig holds tracking-specific settings.
type TrackingConfig struct {
	// BaseURL is the public origin of this service, used to build the
	// default conversion pixel.
	BaseURL string
	// PixelTemplate overrides the default conversion pixel template.
	PixelTemplate string
}

// PixelURLTemplate returns the conversion pixel template, falling back to
// the service's own conversion endpoint.
func (t TrackingConfig) PixelURLTemplate() string {
	if t.PixelTemplate != "" {
		return t.PixelTemplate
	}
	return t.BaseURL + "/api/track/conversion?click_id={click_id}&survey_id={survey_id}"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("SURVAI_HTTP_ADDR", ":8080"),
			Env:             getEnv("SURVAI_ENV", "development"),
			ShutdownTimeout: getDurationEnv("SURVAI_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("SURVAI_DB_HOST", "localhost"),
			Port:     getIntEnv("SURVAI_DB_PORT", 5432),
			User:     getEnv("SURVAI_DB_USER", "survai"),
			Password: getEnv("SURVAI_DB_PASSWORD", "survai_secret"),
			DBName:   getEnv("SURVAI_DB_NAME", "survai"),
			SSLMode:  getEnv("SURVAI_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("SURVAI_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("SURVAI_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("SURVAI_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("SURVAI_REDIS_PASSWORD", ""),
			DB:       getIntEnv("SURVAI_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled: getBoolEnv("SURVAI_CLICKHOUSE_ENABLED", false),
			DSN:     getEnv("SURVAI_CLICKHOUSE_DSN", "clickhouse://localhost:9000/survai"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("SURVAI_AUTH_ENABLED", true),
			MasterKey: getEnv("SURVAI_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("SURVAI_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/api/track/", "/r"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("SURVAI_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("SURVAI_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("SURVAI_RATE_LIMIT_TRACK_BURST", 200),
			AdminRPS:   getFloatEnv("SURVAI_RATE_LIMIT_ADMIN_RPS", 100),
			AdminBurst: getIntEnv("SURVAI_RATE_LIMIT_ADMIN_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("SURVAI_LOG_LEVEL", "info"),
			Format: getEnv("SURVAI_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("SURVAI_METRICS_ENABLED", true),
			Path:    getEnv("SURVAI_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("SURVAI_GEO_ENABLED", false),
			DatabasePath: getEnv("SURVAI_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Tracking: TrackingConfig{
			BaseURL:       getEnv("SURVAI_BASE_URL", "http://localhost:8080"),
			PixelTemplate: getEnv("SURVAI_PIXEL_TEMPLATE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("SURVAI_API_KEY_MASTER is required when auth is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
