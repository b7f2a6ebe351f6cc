// ABOUTME: Configuration loading and parsing for chatroom-server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatroom-server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// BaseURL is the external URL clients reach the server on. Public blob
	// URLs are built from it. Defaults to http://<http_addr>.
	BaseURL string `yaml:"base_url"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo). Defaults to "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// StorageConfig selects the blob store for avatar uploads
type StorageConfig struct {
	// Backend is "disk" or "s3". Defaults to "disk".
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible bucket settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// RealtimeConfig holds websocket change feed timing
type RealtimeConfig struct {
	PingInterval time.Duration `yaml:"-"`
	PongTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	PongTimeoutRaw  string `yaml:"pong_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// APIConfig holds REST write path limits
type APIConfig struct {
	// InsertRate is the sustained inserts per second allowed per client
	// address; 0 disables limiting.
	InsertRate  float64 `yaml:"insert_rate"`
	InsertBurst int     `yaml:"insert_burst"`

	DedupeTTL    time.Duration `yaml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills optional fields left empty.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" && c.Server.HTTPAddr != "" {
		c.Server.BaseURL = "http://" + c.Server.HTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "disk"
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Realtime.PongTimeout == 0 {
		c.Realtime.PongTimeout = 60 * time.Second
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = 10 * time.Second
	}
	if c.API.InsertBurst == 0 && c.API.InsertRate > 0 {
		c.API.InsertBurst = max(1, int(c.API.InsertRate))
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case "disk":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the disk backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be disk or s3, got %q", c.Storage.Backend)
	}

	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout must be longer than realtime.ping_interval")
	}

	if c.API.InsertRate < 0 {
		return fmt.Errorf("api.insert_rate must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"pong_timeout", cfg.Realtime.PongTimeoutRaw, &cfg.Realtime.PongTimeout},
		{"write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"dedupe_ttl", cfg.API.DedupeTTLRaw, &cfg.API.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
