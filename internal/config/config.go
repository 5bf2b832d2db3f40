// Package config loads the bridge daemon configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is used when no data directory is given.
const DefaultDataDir = "~/.klingon-bridge"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the bridge daemon.
type Config struct {
	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// RPC is the operator JSON-RPC and WebSocket API.
	RPC RPCConfig `yaml:"rpc"`

	// Swap tunes the reconciliation driver.
	Swap SwapConfig `yaml:"swap"`

	// Tokens are the assets the local ledger knows about.
	Tokens []TokenConfig `yaml:"tokens"`

	// Platforms are the watcher services, one per chain. One of them must
	// carry the local platform name.
	Platforms []PlatformConfig `yaml:"platforms"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// RPCConfig holds API server settings.
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SwapConfig holds driver settings.
type SwapConfig struct {
	LocalPlatform  string        `yaml:"local_platform"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	FailureBackoff time.Duration `yaml:"failure_backoff"`
	SettleGrace    time.Duration `yaml:"settle_grace"`
	MaxTransitions int           `yaml:"max_transitions"`
}

// TokenConfig describes one ledger token. An empty hash is derived from the
// symbol.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name,omitempty"`
	Decimals uint8  `yaml:"decimals"`
	Hash     string `yaml:"hash,omitempty"`
}

// PlatformConfig describes one watcher endpoint.
type PlatformConfig struct {
	Name            string        `yaml:"name"`
	ExternalAddress string        `yaml:"external_address"`
	Endpoint        string        `yaml:"endpoint"`
	User            string        `yaml:"user,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		RPC: RPCConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7080",
		},
		Swap: SwapConfig{
			LocalPlatform:  swap.DefaultLocalPlatform,
			PollInterval:   swap.DefaultPollInterval,
			FailureBackoff: swap.DefaultFailureBackoff,
			SettleGrace:    swap.DefaultSettleGrace,
			MaxTransitions: swap.DefaultMaxTransitions,
		},
		Tokens: []TokenConfig{
			{Symbol: "SOUL", Name: "Soul", Decimals: 8},
			{Symbol: "KCAL", Name: "Kinetic Calories", Decimals: 10},
		},
		Platforms: []PlatformConfig{
			{
				Name:     swap.DefaultLocalPlatform,
				Endpoint: "http://127.0.0.1:7077",
				Timeout:  30 * time.Second,
			},
		},
	}
}

// Validate checks the configuration for mistakes the daemon can't recover
// from at runtime.
func (c *Config) Validate() error {
	if c.Swap.LocalPlatform == "" {
		return fmt.Errorf("%w: swap.local_platform is required", ErrInvalidConfig)
	}
	if c.Swap.PollInterval < 0 || c.Swap.FailureBackoff < 0 || c.Swap.SettleGrace < 0 {
		return fmt.Errorf("%w: swap intervals must not be negative", ErrInvalidConfig)
	}
	if c.Swap.MaxTransitions < 0 {
		return fmt.Errorf("%w: swap.max_transitions must not be negative", ErrInvalidConfig)
	}
	if c.RPC.Enabled && c.RPC.Listen == "" {
		return fmt.Errorf("%w: rpc.listen is required when rpc is enabled", ErrInvalidConfig)
	}

	symbols := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("%w: tokens[%d] has no symbol", ErrInvalidConfig, i)
		}
		if symbols[t.Symbol] {
			return fmt.Errorf("%w: duplicate token %s", ErrInvalidConfig, t.Symbol)
		}
		symbols[t.Symbol] = true
	}

	names := make(map[string]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.Name == "" {
			return fmt.Errorf("%w: platforms[%d] has no name", ErrInvalidConfig, i)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate platform %s", ErrInvalidConfig, p.Name)
		}
		u, err := url.Parse(p.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: platform %s has bad endpoint %q", ErrInvalidConfig, p.Name, p.Endpoint)
		}
		names[p.Name] = true
	}
	if !names[c.Swap.LocalPlatform] {
		return fmt.Errorf("%w: local platform %s is not configured", ErrInvalidConfig, c.Swap.LocalPlatform)
	}

	return nil
}

// LedgerTokens converts the token section for ledger.NewRegistry.
func (c *Config) LedgerTokens() []ledger.Token {
	out := make([]ledger.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, ledger.Token{
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			Hash:     t.Hash,
		})
	}
	return out
}

// DataPath returns the data directory with ~ expanded.
func (c *Config) DataPath() string {
	return expandPath(c.Storage.DataDir)
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads an existing config file. Missing fields keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Klingon Bridge Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	// Platform credentials may live here.
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
