package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	MetricsPath string `toml:"MetricsPath"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`

	// RateLimitPerMinute bounds HTTP requests per client IP; zero disables
	// the limiter.
	RateLimitPerMinute int `toml:"RateLimitPerMinute"`

	// AuthorityAddress signs pool administration requests. Hex-encoded,
	// 40 characters.
	AuthorityAddress string `toml:"AuthorityAddress"`
}

// Load reads the configuration from path, writing a default file first when
// none exists.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:         "0.0.0.0:8545",
		MetricsPath:        "/metrics",
		DataDir:            "./stakewave-data",
		Environment:        "local",
		LogLevel:           "info",
		RateLimitPerMinute: 600,
	}
}

func applyDefaults(cfg *Config) {
	defaults := defaultConfig()
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(cfg.MetricsPath) == "" {
		cfg.MetricsPath = defaults.MetricsPath
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: RateLimitPerMinute must not be negative")
	}
	if addr := strings.TrimSpace(c.AuthorityAddress); addr != "" && len(addr) != 40 {
		return fmt.Errorf("config: AuthorityAddress must be 40 hex characters, got %d", len(addr))
	}
	return nil
}

func writeDefault(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
