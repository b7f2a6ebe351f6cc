// ABOUTME: Configuration loading for chatroom-tui
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	User    UserConfig    `toml:"user"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type UserConfig struct {
	Name      string `toml:"name"`
	AvatarURL string `toml:"avatar_url"`
	Room      string `toml:"room"`
}

// SyncConfig holds the retry budgets of the snapshot and change feed.
type SyncConfig struct {
	PageSize            int      `toml:"page_size"`
	SnapshotAttempts    int      `toml:"snapshot_attempts"`
	ReconnectAttempts   int      `toml:"reconnect_attempts"`
	ResubscribeAttempts int      `toml:"resubscribe_attempts"`
	BackoffMin          duration `toml:"backoff_min"`
	BackoffMax          duration `toml:"backoff_max"`
	EchoWindow          duration `toml:"echo_window"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// File receives logs; stdout belongs to the chat.
	File string `toml:"file"`
}

// duration decodes TOML strings like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{URL: "http://localhost:8080"},
		User:    UserConfig{Room: "lobby"},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// getConfigPath returns the path to the client config file.
// Priority: CHATROOM_TUI_CONFIG env var > XDG_CONFIG_HOME/chatroom/tui.toml > ~/.config/chatroom/tui.toml
func getConfigPath() string {
	if envPath := os.Getenv("CHATROOM_TUI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "tui.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatroom", "tui.toml")
}

// Load reads config from path, expanding environment variables. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	if c.Sync.BackoffMax.Duration > 0 && c.Sync.BackoffMax.Duration < c.Sync.BackoffMin.Duration {
		return fmt.Errorf("sync.backoff_max must not be shorter than sync.backoff_min")
	}
	for name, v := range map[string]int{
		"sync.page_size":            c.Sync.PageSize,
		"sync.snapshot_attempts":    c.Sync.SnapshotAttempts,
		"sync.reconnect_attempts":   c.Sync.ReconnectAttempts,
		"sync.resubscribe_attempts": c.Sync.ResubscribeAttempts,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
