// Package config handles loading and managing gmail-cleaner configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sruckh/gmail-cleaner/internal/filter"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr        string   `toml:"bind_addr"`        // Listen address (default: 127.0.0.1)
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	APIKey          string   `toml:"api_key"`          // API authentication key
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed CORS origins ("*" allows all)
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentialed CORS requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds (default: 300)
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// EngineConfig holds Gmail API and batching configuration.
type EngineConfig struct {
	RateLimitQPS  int `toml:"rate_limit_qps"` // Quota units per second (default: 5)
	ChunkSize     int `toml:"chunk_size"`     // Metadata/modify batch size (default: 100)
	MaxRetries    int `toml:"max_retries"`    // Per-chunk retry attempts (default: 3)
	BackoffMillis int `toml:"backoff_ms"`     // First retry delay in milliseconds (default: 1000)
	PageSize      int `toml:"page_size"`      // Message list page size (default: 500)
	MaxCollect    int `toml:"max_collect"`    // Per-sender collection cap (default: 20000)
}

// BackoffBase returns the first retry delay as a duration.
func (e EngineConfig) BackoffBase() time.Duration {
	return time.Duration(e.BackoffMillis) * time.Millisecond
}

// Schedule defines a recurring delete scan.
type Schedule struct {
	Name    string        `toml:"name"`    // Display name for logs
	Cron    string        `toml:"cron"`    // Cron expression (e.g., "0 2 * * *" for 2am daily)
	Limit   int           `toml:"limit"`   // Max messages to scan
	Filter  filter.Filter `toml:"filter"`  // Query filter for the scan
	Enabled bool          `toml:"enabled"` // Whether the schedule is active
}

type Config struct {
	Data      DataConfig   `toml:"data"`
	OAuth     OAuthConfig  `toml:"oauth"`
	Engine    EngineConfig `toml:"engine"`
	Server    ServerConfig `toml:"server"`
	Schedules []Schedule   `toml:"schedules"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// DefaultHome returns the default gmail-cleaner home directory.
// Respects GMAILCLEANER_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("GMAILCLEANER_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gmail-cleaner"
	}
	return filepath.Join(home, ".gmail-cleaner")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.gmail-cleaner/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	explicit := path != ""
	if explicit {
		path = expandPath(path)
	} else {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Engine: EngineConfig{
			RateLimitQPS:  5,
			ChunkSize:     100,
			MaxRetries:    3,
			BackoffMillis: 1000,
			PageSize:      500,
			MaxCollect:    20000,
		},
		Server: ServerConfig{
			BindAddr:    "127.0.0.1",
			APIPort:     8080,
			CORSOrigins: []string{"*"},
			CORSMaxAge:  300,
		},
		Schedules: []Schedule{},
	}

	// Config file is optional - use defaults if not present. An explicit
	// path that does not exist is an error.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// TokenPath returns the path to the stored OAuth token.
func (c *Config) TokenPath() string {
	return filepath.Join(c.TokensDir(), "token.json")
}

// EnabledSchedules returns schedules that are active and have a cron
// expression.
func (c *Config) EnabledSchedules() []Schedule {
	var enabled []Schedule
	for _, s := range c.Schedules {
		if s.Enabled && s.Cron != "" {
			enabled = append(enabled, s)
		}
	}
	return enabled
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
