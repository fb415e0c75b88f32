// Package config loads and validates the wallet daemon's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration for the wallet daemon.
type Config struct {
	// HTTPAddr is the address the command/API server listens on.
	HTTPAddr string `yaml:"http_addr"`

	// Storage settings.
	Storage StorageConfig `yaml:"storage"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Webhook settings (deposit ingress from the payment processor).
	Webhook WebhookConfig `yaml:"webhook"`

	// Ledger settings (expiry windows, worker period, idempotency TTL).
	Ledger LedgerConfig `yaml:"ledger"`

	// Query settings (cached transaction listing).
	Query QueryConfig `yaml:"query"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the SQLite database file.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// WebhookConfig holds settings for the external deposit webhook ingress.
type WebhookConfig struct {
	// Secret is the shared HMAC-SHA256 secret used to verify webhook
	// signatures. Set via the PAYSEND_WEBHOOK_SECRET environment variable
	// in preference to committing it to config.yaml.
	Secret string `yaml:"secret"`

	// IPWhitelist restricts which source IPs may call the webhook. Empty
	// means no restriction.
	IPWhitelist []string `yaml:"ip_whitelist"`
}

// LedgerConfig holds the ledger engine's time windows and worker period.
type LedgerConfig struct {
	// CashOutExpiryMinutes is how long a cash-out code stays valid.
	CashOutExpiryMinutes int `yaml:"cash_out_expiry_minutes"`

	// TransferExpiryHours is how long a pending peer transfer stays valid.
	TransferExpiryHours int `yaml:"transfer_expiry_hours"`

	// ExpiryWorkerPeriod is how often the background worker sweeps for
	// expired pending transactions.
	ExpiryWorkerPeriod time.Duration `yaml:"expiry_worker_period"`

	// IdempotencyTTL is how long an idempotency key is remembered.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// CashOutExpiry returns the configured cash-out expiry as a Duration.
func (l LedgerConfig) CashOutExpiry() time.Duration {
	return time.Duration(l.CashOutExpiryMinutes) * time.Minute
}

// TransferExpiry returns the configured transfer expiry as a Duration.
func (l LedgerConfig) TransferExpiry() time.Duration {
	return time.Duration(l.TransferExpiryHours) * time.Hour
}

// QueryConfig holds the cached transaction listing layer's settings.
type QueryConfig struct {
	// ListCacheTTL is how long a page of listed transactions is cached.
	ListCacheTTL time.Duration `yaml:"list_cache_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: "127.0.0.1:8080",
		Storage: StorageConfig{
			DataDir: "~/.walletd",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Webhook: WebhookConfig{
			Secret:      "",
			IPWhitelist: []string{},
		},
		Ledger: LedgerConfig{
			CashOutExpiryMinutes: 30,
			TransferExpiryHours:  24,
			ExpiryWorkerPeriod:   6 * time.Hour,
			IdempotencyTTL:       24 * time.Hour,
		},
		Query: QueryConfig{
			ListCacheTTL: 15 * time.Minute,
		},
	}
}

// LoadConfig loads configuration from a YAML file under dataDir. If the
// file doesn't exist, it creates one with default values. Environment
// variables are applied on top of the file, so secrets never need to be
// committed to config.yaml.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	var cfg *Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides layers environment variables on top of a loaded config,
// the same override-after-load idiom the daemon's flag parsing uses for
// CLI-supplied values, here applied to values that shouldn't live in a
// committed YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAYSEND_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("WALLETD_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WALLETD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IP_WHITELIST"); v != "" {
		cfg.Webhook.IPWhitelist = splitAndTrim(v)
	}
	if v := os.Getenv("CASH_OUT_EXPIRY_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.CashOutExpiryMinutes = n
		}
	}
	if v := os.Getenv("TRANSFER_EXPIRY_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.TransferExpiryHours = n
		}
	}
	if v := os.Getenv("EXPIRY_WORKER_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.ExpiryWorkerPeriod = d
		}
	}
	if v := os.Getenv("LIST_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.ListCacheTTL = d
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.IdempotencyTTL = d
		}
	}
}

// splitAndTrim splits a comma-separated env value into trimmed, non-empty
// entries, for IP_WHITELIST.
func splitAndTrim(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for invariant violations that would
// otherwise surface as confusing failures deep in the ledger or API layer.
func (c *Config) Validate() error {
	if c.Ledger.CashOutExpiryMinutes <= 0 {
		return fmt.Errorf("ledger.cash_out_expiry_minutes must be positive")
	}
	if c.Ledger.TransferExpiryHours <= 0 {
		return fmt.Errorf("ledger.transfer_expiry_hours must be positive")
	}
	if c.Ledger.ExpiryWorkerPeriod <= 0 {
		return fmt.Errorf("ledger.expiry_worker_period must be positive")
	}
	if c.Ledger.IdempotencyTTL <= 0 {
		return fmt.Errorf("ledger.idempotency_ttl must be positive")
	}
	if c.Query.ListCacheTTL <= 0 {
		return fmt.Errorf("query.list_cache_ttl must be positive")
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# walletd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
