// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseFile is the name of the SQLite file inside the data directory.
const DatabaseFile = "bridge.db"

// Storage provides persistent storage for the bridge daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- One row per transfer, keyed by the identifier of the originating event.
	-- Rows are never deleted; terminal rows are the audit trail.
	CREATE TABLE IF NOT EXISTS swaps (
		source_hash TEXT PRIMARY KEY,

		-- Sides
		source_platform TEXT NOT NULL,
		source_address TEXT NOT NULL,
		destination_platform TEXT NOT NULL,
		destination_address TEXT NOT NULL,

		-- Asset (amount in smallest units, base-10 text)
		symbol TEXT NOT NULL,
		amount TEXT NOT NULL,

		-- Lifecycle (pending, broker, sending, settle, finished, invalid)
		state TEXT NOT NULL DEFAULT 'pending',

		-- Parked failure (platform, broker, receive), empty when healthy
		failure_reason TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,

		-- Identifiers produced by adapter actions
		broker_id TEXT,
		destination_hash TEXT,
		settle_hash TEXT,

		-- Earliest time the next step may run (unix seconds, 0 = now)
		next_attempt_at INTEGER NOT NULL DEFAULT 0,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_updated ON swaps(updated_at);

	-- Address index: ordered set of transfers per participant address.
	-- The id column preserves insertion order.
	CREATE TABLE IF NOT EXISTS swap_addresses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		source_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,

		UNIQUE(address, source_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_swap_addresses_address ON swap_addresses(address, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs additive schema migrations for existing databases.
// Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE swaps ADD COLUMN settle_hash TEXT",
		"ALTER TABLE swaps ADD COLUMN next_attempt_at INTEGER NOT NULL DEFAULT 0",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
