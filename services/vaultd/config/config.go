package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the vaultd service.
type Config struct {
	ListenAddress    string            `yaml:"listen_address"`
	Environment      string            `yaml:"environment"`
	Markets          []string          `yaml:"markets"`
	AutomationConfig string            `yaml:"automation_config"`
	JournalPath      string            `yaml:"journal_path"`
	Paused           []string          `yaml:"paused"`
	Chain            ChainConfig       `yaml:"chain"`
	Auth             AuthConfig        `yaml:"auth"`
	RateLimit        RateLimitConfig   `yaml:"rate_limit"`
	Quota            QuotaConfig       `yaml:"quota"`
	Log              LogConfig         `yaml:"log"`
	PipelineTTL      time.Duration     `yaml:"pipeline_ttl"`
	TokenAddresses   map[string]string `yaml:"token_addresses"`
}

// ChainConfig points the read-only capabilities at an Ethereum JSON-RPC node.
type ChainConfig struct {
	RPCURL        string            `yaml:"rpc_url"`
	ProxyRegistry string            `yaml:"proxy_registry"`
	PriceFeeds    map[string]string `yaml:"price_feeds"`
	PriceDecimals int               `yaml:"price_decimals"`
}

// AuthConfig controls bearer token verification on the API.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds request rates per client IP.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QuotaConfig bounds per-owner usage of the pipeline API.
type QuotaConfig struct {
	MaxRequestsPerWindow uint32 `yaml:"max_requests_per_window"`
	MaxStartsPerWindow   uint32 `yaml:"max_starts_per_window"`
	WindowSeconds        uint32 `yaml:"window_seconds"`
}

// LogConfig enables the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8546"
	}
	if c.JournalPath == "" {
		c.JournalPath = "vaultd.db"
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.Quota.WindowSeconds == 0 {
		c.Quota.WindowSeconds = 60
	}
	if c.Quota.MaxRequestsPerWindow == 0 {
		c.Quota.MaxRequestsPerWindow = 120
	}
	if c.Quota.MaxStartsPerWindow == 0 {
		c.Quota.MaxStartsPerWindow = 10
	}
	if c.Chain.PriceDecimals <= 0 {
		c.Chain.PriceDecimals = 8
	}
	if c.PipelineTTL <= 0 {
		c.PipelineTTL = time.Hour
	}
}

func (c Config) validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: at least one market required")
	}
	for _, market := range c.Markets {
		if strings.TrimSpace(market) == "" {
			return fmt.Errorf("config: empty market identifier")
		}
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled without hmac secret")
	}
	return nil
}
