package storage

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// createTestSwapRecord creates a test swap record with sensible defaults.
func createTestSwapRecord(sourceHash string) *SwapRecord {
	return &SwapRecord{
		SourceHash:          sourceHash,
		SourcePlatform:      "local",
		SourceAddress:       "P2KAlice",
		DestinationPlatform: "ext",
		DestinationAddress:  "0xBob",
		Symbol:              "TOK",
		Amount:              big.NewInt(1000),
		State:               "pending",
	}
}

func TestSwapCRUD(t *testing.T) {
	store := newTestStorage(t)

	swap := createTestSwapRecord("hash-001")
	if err := store.SaveSwap(swap); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}
	if swap.CreatedAt.IsZero() || swap.UpdatedAt.IsZero() {
		t.Error("SaveSwap() should stamp created_at and updated_at")
	}

	got, err := store.GetSwap("hash-001")
	if err != nil {
		t.Fatalf("GetSwap() error = %v", err)
	}
	if got.SourcePlatform != "local" {
		t.Errorf("SourcePlatform = %s, want local", got.SourcePlatform)
	}
	if got.DestinationAddress != "0xBob" {
		t.Errorf("DestinationAddress = %s, want 0xBob", got.DestinationAddress)
	}
	if got.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Amount = %s, want 1000", got.Amount)
	}
	if got.State != "pending" {
		t.Errorf("State = %s, want pending", got.State)
	}
	if !got.NextAttemptAt.IsZero() {
		t.Errorf("NextAttemptAt = %v, want zero", got.NextAttemptAt)
	}
	if !got.CompletedAt.IsZero() {
		t.Error("CompletedAt should be zero for a pending swap")
	}

	// Update swap (save again should update)
	next := time.Now().Add(30 * time.Second).Truncate(time.Second)
	swap.State = "settle"
	swap.BrokerID = "broker-1"
	swap.DestinationHash = "0xdest"
	swap.NextAttemptAt = next
	if err := store.SaveSwap(swap); err != nil {
		t.Fatalf("SaveSwap() update error = %v", err)
	}

	got, err = store.GetSwap("hash-001")
	if err != nil {
		t.Fatalf("GetSwap() after update error = %v", err)
	}
	if got.State != "settle" {
		t.Errorf("State = %s, want settle", got.State)
	}
	if got.DestinationHash != "0xdest" {
		t.Errorf("DestinationHash = %s, want 0xdest", got.DestinationHash)
	}
	if got.BrokerID != "broker-1" {
		t.Errorf("BrokerID = %s, want broker-1", got.BrokerID)
	}
	if !got.NextAttemptAt.Equal(next) {
		t.Errorf("NextAttemptAt = %v, want %v", got.NextAttemptAt, next)
	}

	swap.State = StateFinished
	swap.SettleHash = "settle-1"
	if err := store.SaveSwap(swap); err != nil {
		t.Fatalf("SaveSwap() finish error = %v", err)
	}
	got, _ = store.GetSwap("hash-001")
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set once the swap is terminal")
	}
	if !got.IsTerminal() {
		t.Error("IsTerminal() = false for finished swap")
	}
}

func TestGetSwapNotFound(t *testing.T) {
	store := newTestStorage(t)

	got, err := store.GetSwap("missing")
	if !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("GetSwap() error = %v, want ErrSwapNotFound", err)
	}
	if got != nil {
		t.Error("GetSwap() should return nil for missing swap")
	}

	ok, err := store.HasSwap("missing")
	if err != nil {
		t.Fatalf("HasSwap() error = %v", err)
	}
	if ok {
		t.Error("HasSwap() = true for missing swap")
	}
}

func TestSaveSwapRequiresSourceHash(t *testing.T) {
	store := newTestStorage(t)

	if err := store.SaveSwap(createTestSwapRecord("")); !errors.Is(err, ErrEmptySourceHash) {
		t.Errorf("SaveSwap() error = %v, want ErrEmptySourceHash", err)
	}
}

func TestIndexSwapIsIdempotent(t *testing.T) {
	store := newTestStorage(t)

	for i := 0; i < 3; i++ {
		if err := store.IndexSwap("hash-001", "P2KAlice", "0xBob"); err != nil {
			t.Fatalf("IndexSwap() error = %v", err)
		}
	}

	for _, addr := range []string{"P2KAlice", "0xBob"} {
		hashes, err := store.GetSwapHashesForAddress(addr)
		if err != nil {
			t.Fatalf("GetSwapHashesForAddress(%s) error = %v", addr, err)
		}
		if len(hashes) != 1 || hashes[0] != "hash-001" {
			t.Errorf("GetSwapHashesForAddress(%s) = %v, want [hash-001]", addr, hashes)
		}
	}
}

func TestIndexSwapKeepsInsertionOrder(t *testing.T) {
	store := newTestStorage(t)

	order := []string{"hash-c", "hash-a", "hash-b"}
	for _, h := range order {
		if err := store.IndexSwap(h, "P2KAlice", ""); err != nil {
			t.Fatalf("IndexSwap(%s) error = %v", h, err)
		}
	}

	hashes, err := store.GetSwapHashesForAddress("P2KAlice")
	if err != nil {
		t.Fatalf("GetSwapHashesForAddress() error = %v", err)
	}
	if len(hashes) != len(order) {
		t.Fatalf("got %d hashes, want %d", len(hashes), len(order))
	}
	for i := range order {
		if hashes[i] != order[i] {
			t.Errorf("hashes[%d] = %s, want %s", i, hashes[i], order[i])
		}
	}

	empty, err := store.GetSwapHashesForAddress("")
	if err != nil {
		t.Fatalf("GetSwapHashesForAddress(\"\") error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty address should not be indexed, got %v", empty)
	}
}

func TestGetSwapsForAddress(t *testing.T) {
	store := newTestStorage(t)

	for _, h := range []string{"hash-1", "hash-2"} {
		if err := store.SaveSwap(createTestSwapRecord(h)); err != nil {
			t.Fatalf("SaveSwap() error = %v", err)
		}
		if err := store.IndexSwap(h, "P2KAlice", "0xBob"); err != nil {
			t.Fatalf("IndexSwap() error = %v", err)
		}
	}
	// Indexed but never saved: must not appear in the join.
	if err := store.IndexSwap("hash-orphan", "0xBob"); err != nil {
		t.Fatalf("IndexSwap() error = %v", err)
	}

	swaps, err := store.GetSwapsForAddress("0xBob")
	if err != nil {
		t.Fatalf("GetSwapsForAddress() error = %v", err)
	}
	if len(swaps) != 2 {
		t.Fatalf("got %d swaps, want 2", len(swaps))
	}
	if swaps[0].SourceHash != "hash-1" || swaps[1].SourceHash != "hash-2" {
		t.Errorf("unexpected order: %s, %s", swaps[0].SourceHash, swaps[1].SourceHash)
	}
}

func TestListSwapsAndCount(t *testing.T) {
	store := newTestStorage(t)

	states := map[string]string{
		"pending-001":  "pending",
		"settle-001":   "settle",
		"finished-001": StateFinished,
		"invalid-001":  StateInvalid,
	}
	for h, state := range states {
		swap := createTestSwapRecord(h)
		swap.State = state
		if err := store.SaveSwap(swap); err != nil {
			t.Fatalf("SaveSwap(%s) error = %v", h, err)
		}
	}

	active, err := store.ListSwaps(0, false)
	if err != nil {
		t.Fatalf("ListSwaps() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListSwaps(active) returned %d swaps, want 2", len(active))
	}
	for _, swap := range active {
		if swap.IsTerminal() {
			t.Errorf("ListSwaps(active) returned terminal swap %s", swap.SourceHash)
		}
	}

	all, err := store.ListSwaps(0, true)
	if err != nil {
		t.Fatalf("ListSwaps(all) error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListSwaps(all) returned %d swaps, want 4", len(all))
	}

	limited, err := store.ListSwaps(1, true)
	if err != nil {
		t.Fatalf("ListSwaps(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListSwaps(limit=1) returned %d swaps", len(limited))
	}

	pending, completed, err := store.SwapCount()
	if err != nil {
		t.Fatalf("SwapCount() error = %v", err)
	}
	if pending != 2 || completed != 2 {
		t.Errorf("SwapCount() = (%d, %d), want (2, 2)", pending, completed)
	}
}

func TestStorageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	swap := createTestSwapRecord("hash-restart")
	swap.State = "settle"
	if err := store.SaveSwap(swap); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}
	if err := store.IndexSwap("hash-restart", swap.SourceAddress, swap.DestinationAddress); err != nil {
		t.Fatalf("IndexSwap() error = %v", err)
	}
	store.Close()

	reopened, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetSwap("hash-restart")
	if err != nil {
		t.Fatalf("GetSwap() after reopen error = %v", err)
	}
	if got.State != "settle" {
		t.Errorf("State = %s, want settle", got.State)
	}
	hashes, err := reopened.GetSwapHashesForAddress("0xBob")
	if err != nil {
		t.Fatalf("GetSwapHashesForAddress() error = %v", err)
	}
	if len(hashes) != 1 {
		t.Errorf("address index lost on reopen: %v", hashes)
	}
}

func TestSwapAmountBeyond64Bits(t *testing.T) {
	store := newTestStorage(t)

	// 10 ETH in wei and a value that needs well over 64 bits.
	amounts := []string{"10000000000000000000", "123456789012345678901234567890"}
	for i, text := range amounts {
		amount, _ := new(big.Int).SetString(text, 10)
		swap := createTestSwapRecord(fmt.Sprintf("hash-big-%d", i))
		swap.Amount = amount
		if err := store.SaveSwap(swap); err != nil {
			t.Fatalf("SaveSwap(%s) error = %v", text, err)
		}

		got, err := store.GetSwap(swap.SourceHash)
		if err != nil {
			t.Fatalf("GetSwap() error = %v", err)
		}
		if got.Amount.String() != text {
			t.Errorf("Amount = %s, want %s", got.Amount, text)
		}
	}
}

func TestSwapAmountValidation(t *testing.T) {
	store := newTestStorage(t)

	swap := createTestSwapRecord("hash-neg")
	swap.Amount = big.NewInt(-1)
	if err := store.SaveSwap(swap); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("SaveSwap() error = %v, want ErrInvalidAmount", err)
	}

	swap = createTestSwapRecord("hash-nil")
	swap.Amount = nil
	if err := store.SaveSwap(swap); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}
	got, err := store.GetSwap("hash-nil")
	if err != nil {
		t.Fatalf("GetSwap() error = %v", err)
	}
	if got.Amount.Sign() != 0 {
		t.Errorf("Amount = %s, want 0", got.Amount)
	}
}
