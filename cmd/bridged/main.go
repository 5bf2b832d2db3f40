// Package main provides bridged, the swap reconciliation daemon.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/config"
	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/platform/jsonrpc"
	"github.com/klingon-exchange/klingon-bridge/internal/rpc"
	"github.com/klingon-exchange/klingon-bridge/internal/storage"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
	"github.com/klingon-exchange/klingon-bridge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir      = flag.String("data-dir", config.DefaultDataDir, "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr      = flag.String("api", "", "JSON-RPC API address, overrides config")
		noAPI        = flag.Bool("no-api", false, "Disable the JSON-RPC API")
		localName    = flag.String("local", "", "Local platform name, overrides config")
		pollInterval = flag.Duration("poll", 0, "Poll interval, overrides config")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      levelOr(*logLevel, "info"),
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("bridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadConfig(*dataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *noAPI {
		cfg.RPC.Enabled = false
	}
	if *localName != "" {
		cfg.Swap.LocalPlatform = *localName
	}
	if *pollInterval > 0 {
		cfg.Swap.PollInterval = *pollInterval
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *configFile == "" {
		cfg.Storage.DataDir = *dataDir
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	// Update logging with config level and file
	output, closeLog, err := logOutput(cfg.Logging.File)
	if err != nil {
		log.Fatal("Failed to open log file", "error", err)
	}
	defer closeLog()
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		Output:     output,
	})
	logging.SetDefault(log)

	if *configFile != "" {
		log.Info("Config loaded", "path", *configFile)
	} else {
		log.Info("Config loaded", "path", config.ConfigPath(*dataDir))
	}

	// Initialize storage
	dataPath := cfg.DataPath()
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", store.Path())

	tokens, err := ledger.NewRegistry(cfg.LedgerTokens()...)
	if err != nil {
		log.Fatal("Failed to load tokens", "error", err)
	}
	log.Info("Ledger initialized", "tokens", tokens.Tokens())

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Fatal("Failed to register platforms", "error", err)
	}
	log.Info("Platforms registered", "local", registry.Local(), "platforms", registry.Names())

	lookup := swap.NewLookup(store, registry, tokens)
	rpcServer := rpc.NewServer(lookup, rpc.Info{Version: version, DataDir: dataPath})

	var observer swap.Observer
	if cfg.RPC.Enabled {
		observer = rpcServer.WSHub()
	}

	driver, err := swap.NewDriver(swap.DriverConfig{
		Store:          store,
		Registry:       registry,
		Ledger:         tokens,
		Observer:       observer,
		PollInterval:   cfg.Swap.PollInterval,
		FailureBackoff: cfg.Swap.FailureBackoff,
		SettleGrace:    cfg.Swap.SettleGrace,
		MaxTransitions: cfg.Swap.MaxTransitions,
	})
	if err != nil {
		log.Fatal("Failed to create swap driver", "error", err)
	}

	// Start RPC server
	if cfg.RPC.Enabled {
		if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
			log.Fatal("Failed to start RPC server", "error", err)
		}
	}

	driver.Start()

	printBanner(log, cfg, registry, rpcServer.Addr())

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Stop cancels the running cycle and returns once its progress is saved,
	// so the store is closed after the last write.
	driver.Stop()

	if cfg.RPC.Enabled {
		if err := rpcServer.Stop(); err != nil {
			log.Error("Error stopping RPC server", "error", err)
		}
	}

	log.Info("Goodbye!")
}

// buildRegistry creates one JSON-RPC adapter per configured platform.
func buildRegistry(cfg *config.Config) (*swap.Registry, error) {
	adapters := make([]swap.Adapter, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		a, err := jsonrpc.New(jsonrpc.Config{
			Name:            p.Name,
			ExternalAddress: p.ExternalAddress,
			Endpoint:        p.Endpoint,
			User:            p.User,
			Password:        p.Password,
			Timeout:         p.Timeout,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return swap.NewRegistry(cfg.Swap.LocalPlatform, adapters...)
}

// logOutput opens the log file, or returns stderr when path is empty.
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func levelOr(level, fallback string) string {
	if level == "" {
		return fallback
	}
	return level
}

func printBanner(log *logging.Logger, cfg *config.Config, registry *swap.Registry, apiAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  Klingon Bridge")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Local platform: %s", registry.Local())
	log.Info("  Platforms:")
	for _, name := range registry.Names() {
		log.Infof("    %s", name)
	}
	log.Info("")
	if apiAddr != "" {
		log.Infof("  API: http://%s", apiAddr)
		log.Infof("  WS:  ws://%s/ws", apiAddr)
	} else {
		log.Info("  API: disabled")
	}
	log.Infof("  Poll: %v | Settle grace: %v", cfg.Swap.PollInterval, cfg.Swap.SettleGrace)
	log.Infof("  Data dir: %s", cfg.DataPath())
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
