// Package storage - Transfer persistence for the reconciliation driver.
// This file provides CRUD operations for swap records and the address index,
// enabling the driver to resume after restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound    = errors.New("swap not found")
	ErrEmptySourceHash = errors.New("swap source hash is empty")
	ErrInvalidAmount   = errors.New("invalid swap amount")
)

// Terminal lifecycle states, matched in SQL filters.
const (
	StateFinished = "finished"
	StateInvalid  = "invalid"
)

// SwapRecord is a persisted transfer row.
type SwapRecord struct {
	// Identity
	SourceHash string `json:"source_hash"`

	// Sides
	SourcePlatform      string `json:"source_platform"`
	SourceAddress       string `json:"source_address"`
	DestinationPlatform string `json:"destination_platform"`
	DestinationAddress  string `json:"destination_address"`

	// Asset. Amount is in the token's smallest unit and may exceed 64 bits.
	Symbol string   `json:"symbol"`
	Amount *big.Int `json:"amount"`

	// Lifecycle
	State         string `json:"state"`
	FailureReason string `json:"failure_reason,omitempty"`
	Attempts      int    `json:"attempts"`

	// Adapter results
	BrokerID        string `json:"broker_id,omitempty"`
	DestinationHash string `json:"destination_hash,omitempty"`
	SettleHash      string `json:"settle_hash,omitempty"`

	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	// Timing
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the row can no longer change.
func (r *SwapRecord) IsTerminal() bool {
	return isTerminalState(r.State)
}

const swapColumns = `
	source_hash, source_platform, source_address,
	destination_platform, destination_address,
	symbol, amount, state, failure_reason, attempts,
	broker_id, destination_hash, settle_hash, next_attempt_at,
	created_at, updated_at, completed_at`

// SaveSwap saves or updates a swap record.
// Uses UPSERT pattern - creates if not exists, updates if exists.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	if swap.SourceHash == "" {
		return ErrEmptySourceHash
	}

	amount, err := amountText(swap.Amount)
	if err != nil {
		return fmt.Errorf("failed to save swap %s: %w", swap.SourceHash, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	if isTerminalState(swap.State) && swap.CompletedAt.IsZero() {
		swap.CompletedAt = now
	}

	query := `
		INSERT INTO swaps (` + swapColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_hash) DO UPDATE SET
			state = excluded.state,
			failure_reason = excluded.failure_reason,
			attempts = excluded.attempts,
			broker_id = excluded.broker_id,
			destination_hash = excluded.destination_hash,
			settle_hash = excluded.settle_hash,
			next_attempt_at = excluded.next_attempt_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err = s.db.Exec(query,
		swap.SourceHash,
		swap.SourcePlatform,
		swap.SourceAddress,
		swap.DestinationPlatform,
		swap.DestinationAddress,
		swap.Symbol,
		amount,
		swap.State,
		swap.FailureReason,
		swap.Attempts,
		swap.BrokerID,
		swap.DestinationHash,
		swap.SettleHash,
		timeToUnixOrZero(swap.NextAttemptAt),
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
		timeToUnixOrZero(swap.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save swap %s: %w", swap.SourceHash, err)
	}
	return nil
}

// GetSwap retrieves a swap by source hash.
func (s *Storage) GetSwap(sourceHash string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE source_hash = ?`, sourceHash)
	swap, err := scanSwapRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSwapNotFound
	}
	return swap, err
}

// HasSwap reports whether a swap with the given source hash exists.
func (s *Storage) HasSwap(sourceHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM swaps WHERE source_hash = ?`, sourceHash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IndexSwap appends sourceHash to the address list of every given address.
// Re-indexing the same pair is a no-op, so the call is idempotent.
// Empty addresses are skipped.
func (s *Storage) IndexSwap(sourceHash string, addresses ...string) error {
	if sourceHash == "" {
		return ErrEmptySourceHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO swap_addresses (address, source_hash, created_at) VALUES (?, ?, ?)`,
			addr, sourceHash, now,
		)
		if err != nil {
			return fmt.Errorf("failed to index swap %s under %s: %w", sourceHash, addr, err)
		}
	}

	return tx.Commit()
}

// GetSwapHashesForAddress returns the source hashes indexed under an address,
// in the order they were first indexed.
func (s *Storage) GetSwapHashesForAddress(address string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT source_hash FROM swap_addresses WHERE address = ? ORDER BY id ASC`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// GetSwapsForAddress returns the swap rows indexed under an address,
// in index order.
func (s *Storage) GetSwapsForAddress(address string) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + prefixColumns("s.") + `
		FROM swap_addresses a
		JOIN swaps s ON s.source_hash = a.source_hash
		WHERE a.address = ?
		ORDER BY a.id ASC`

	rows, err := s.db.Query(query, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSwapRecords(rows)
}

// ListSwaps returns swaps ordered by most recent update.
func (s *Storage) ListSwaps(limit int, includeCompleted bool) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps`
	if !includeCompleted {
		query += ` WHERE state NOT IN ('finished', 'invalid')`
	}
	query += ` ORDER BY updated_at DESC, source_hash ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSwapRecords(rows)
}

// SwapCount returns count of swaps by terminality.
func (s *Storage) SwapCount() (pending, completed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state NOT IN ('finished', 'invalid')",
	).Scan(&pending)
	if err != nil {
		return
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state IN ('finished', 'invalid')",
	).Scan(&completed)
	return
}

// Helper functions

func isTerminalState(state string) bool {
	return state == StateFinished || state == StateInvalid
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row rowScanner) (*SwapRecord, error) {
	var swap SwapRecord
	var amount string
	var failureReason, brokerID, destinationHash, settleHash sql.NullString
	var nextAttemptAt, createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&swap.SourceHash,
		&swap.SourcePlatform,
		&swap.SourceAddress,
		&swap.DestinationPlatform,
		&swap.DestinationAddress,
		&swap.Symbol,
		&amount,
		&swap.State,
		&failureReason,
		&swap.Attempts,
		&brokerID,
		&destinationHash,
		&settleHash,
		&nextAttemptAt,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: swap %s has %q", ErrInvalidAmount, swap.SourceHash, amount)
	}
	swap.Amount = value
	swap.FailureReason = failureReason.String
	swap.BrokerID = brokerID.String
	swap.DestinationHash = destinationHash.String
	swap.SettleHash = settleHash.String

	if nextAttemptAt > 0 {
		swap.NextAttemptAt = time.Unix(nextAttemptAt, 0)
	}
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid && completedAt.Int64 > 0 {
		swap.CompletedAt = time.Unix(completedAt.Int64, 0)
	}

	return &swap, nil
}

func collectSwapRecords(rows *sql.Rows) ([]*SwapRecord, error) {
	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

func prefixColumns(prefix string) string {
	cols := strings.Split(swapColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// amountText renders an amount for the TEXT column. A nil amount is zero.
func amountText(amount *big.Int) (string, error) {
	if amount == nil {
		return "0", nil
	}
	if amount.Sign() < 0 {
		return "", fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	return amount.String(), nil
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
