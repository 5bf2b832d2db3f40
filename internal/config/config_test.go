package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.DataDir != DefaultDataDir {
		t.Errorf("expected %s, got %s", DefaultDataDir, cfg.Storage.DataDir)
	}
	if cfg.Swap.LocalPlatform != "local" {
		t.Errorf("expected local platform 'local', got %s", cfg.Swap.LocalPlatform)
	}
	if cfg.Swap.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Swap.PollInterval)
	}
	if cfg.Swap.SettleGrace != 30*time.Second {
		t.Errorf("expected settle grace 30s, got %v", cfg.Swap.SettleGrace)
	}
	if cfg.Swap.MaxTransitions != 16 {
		t.Errorf("expected 16 max transitions, got %d", cfg.Swap.MaxTransitions)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if len(cfg.Tokens) != 2 {
		t.Errorf("expected 2 default tokens, got %d", len(cfg.Tokens))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("expected data dir %s, got %s", dir, cfg.Storage.DataDir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Klingon Bridge Configuration") {
		t.Error("expected header comment in generated config")
	}
	if !strings.Contains(string(data), "poll_interval: 2s") {
		t.Errorf("expected durations written as strings, got:\n%s", data)
	}

	info, err := os.Stat(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Swap.SettleGrace = 45 * time.Second
	cfg.Platforms = append(cfg.Platforms, PlatformConfig{
		Name:            "eth",
		ExternalAddress: "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
		Endpoint:        "http://127.0.0.1:7078",
		User:            "watcher",
		Password:        "secret",
	})
	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Swap.SettleGrace != 45*time.Second {
		t.Errorf("expected settle grace 45s, got %v", loaded.Swap.SettleGrace)
	}
	if len(loaded.Platforms) != 2 {
		t.Fatalf("expected 2 platforms, got %d", len(loaded.Platforms))
	}
	if loaded.Platforms[1].Password != "secret" {
		t.Errorf("expected password to survive, got %q", loaded.Platforms[1].Password)
	}
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	content := "swap:\n  poll_interval: 500ms\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Swap.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Swap.PollInterval)
	}
	if cfg.Swap.LocalPlatform != "local" {
		t.Errorf("expected default local platform, got %q", cfg.Swap.LocalPlatform)
	}
	if cfg.RPC.Listen == "" {
		t.Error("expected default rpc listen address")
	}
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("swap: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no local platform name", func(c *Config) { c.Swap.LocalPlatform = "" }},
		{"local platform not configured", func(c *Config) { c.Swap.LocalPlatform = "phantasma" }},
		{"negative interval", func(c *Config) { c.Swap.PollInterval = -time.Second }},
		{"negative max transitions", func(c *Config) { c.Swap.MaxTransitions = -1 }},
		{"rpc without listen", func(c *Config) { c.RPC.Listen = "" }},
		{"empty token symbol", func(c *Config) { c.Tokens = append(c.Tokens, TokenConfig{}) }},
		{"duplicate token", func(c *Config) { c.Tokens = append(c.Tokens, TokenConfig{Symbol: "SOUL"}) }},
		{"unnamed platform", func(c *Config) {
			c.Platforms = append(c.Platforms, PlatformConfig{Endpoint: "http://127.0.0.1:1"})
		}},
		{"duplicate platform", func(c *Config) {
			c.Platforms = append(c.Platforms, PlatformConfig{Name: "local", Endpoint: "http://127.0.0.1:1"})
		}},
		{"bad endpoint", func(c *Config) { c.Platforms[0].Endpoint = "127.0.0.1:7077" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateAllowsDisabledRPC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPC.Enabled = false
	cfg.RPC.Listen = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLedgerTokens(t *testing.T) {
	cfg := DefaultConfig()

	reg, err := ledger.NewRegistry(cfg.LedgerTokens()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	soul, err := reg.GetTokenInfo("SOUL")
	if err != nil {
		t.Fatalf("GetTokenInfo: %v", err)
	}
	if soul.Decimals != 8 {
		t.Errorf("expected 8 decimals, got %d", soul.Decimals)
	}
	if soul.Hash != ledger.TokenHash("SOUL") {
		t.Errorf("expected derived hash, got %s", soul.Hash)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.klingon-bridge"); got != filepath.Join(home, ".klingon-bridge") {
		t.Errorf("unexpected expansion %s", got)
	}
	if got := expandPath("/var/lib/bridge"); got != "/var/lib/bridge" {
		t.Errorf("absolute path changed: %s", got)
	}
}
