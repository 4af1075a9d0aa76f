// Package config loads the catalog service configuration from environment
// variables. Fields declare their variable, alternate name, default and
// allowed values in struct tags; Load fills them and Validate reports every
// problem at once so a misconfigured process fails on startup.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds the graceful shutdown, including the wait for
	// running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies lists proxy CIDRs whose X-Real-IP and X-Forwarded-For
	// headers are believed. Empty means client addresses come from the
	// connection only.
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig selects and tunes the store backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres" oneof:"postgres,sqlite,memory"`

	// URL is the connection string, or the file path for sqlite. Required
	// unless Driver is memory. DB_URL is accepted as an alternate name.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Schema qualifies every table name (default: public on postgres, none elsewhere)
	Schema string `env:"DB_SCHEMA"`

	// EstimateThreshold is the planner row estimate above which the
	// "estimated" count mode skips the exact count (default: 100000)
	EstimateThreshold int64 `env:"DB_ESTIMATE_THRESHOLD" default:"100000"`
}

// ImportConfig holds import run settings.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the number of runs allowed at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a new run waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// ResultTTL is how long a finished run's report stays available (default: 5m)
	ResultTTL time.Duration `env:"IMPORT_RESULT_TTL" default:"5m"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info" oneof:"debug,info,warn,error"`
	Format string `env:"LOG_FORMAT" default:"text" oneof:"text,json"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TableSchema returns the schema tables are qualified with.
func (c *DatabaseConfig) TableSchema() string {
	if c.Schema == "" && c.Driver == DriverPostgres {
		return "public"
	}
	return c.Schema
}

// String returns a representation safe for logging; the URL is masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Addr: %q}, Database: {Driver: %s, URL: [MASKED], MaxConns: %d, MinConns: %d, Schema: %q}, "+
		"Import: {MaxFileSize: %d, MaxConcurrent: %d, Timeout: %s}, Rate: {Enabled: %v, RequestsPerMinute: %d}, "+
		"Logging: {Level: %q, Format: %q}, Metrics: {Enabled: %v}}",
		c.Server.Addr(),
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns, c.Database.TableSchema(),
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.Timeout,
		c.Rate.Enabled, c.Rate.RequestsPerMinute,
		c.Logging.Level, c.Logging.Format,
		c.Metrics.Enabled,
	)
}
