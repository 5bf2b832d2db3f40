package swap

import (
	"fmt"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/storage"
)

// Lookup answers read-only queries over the swap store, the platform
// registry and the token ledger.
type Lookup struct {
	store    Store
	registry *Registry
	ledger   ledger.Ledger
}

// NewLookup creates the lookup service.
func NewLookup(store Store, registry *Registry, l ledger.Ledger) *Lookup {
	return &Lookup{store: store, registry: registry, ledger: l}
}

// Registry returns the platform registry.
func (l *Lookup) Registry() *Registry {
	return l.registry
}

// GetSwap returns the stored record for sourceHash or ErrSwapNotFound.
func (l *Lookup) GetSwap(sourceHash string) (*Record, error) {
	row, err := l.store.GetSwap(sourceHash)
	if err != nil {
		return nil, err
	}
	return recordFromStorage(row), nil
}

// HasSwap reports whether a record exists for sourceHash.
func (l *Lookup) HasSwap(sourceHash string) (bool, error) {
	return l.store.HasSwap(sourceHash)
}

// SwapHashesForAddress returns the source hashes indexed under address in
// insertion order. Unknown addresses yield an empty list.
func (l *Lookup) SwapHashesForAddress(address string) ([]string, error) {
	hashes, err := l.store.GetSwapHashesForAddress(ledger.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	if hashes == nil {
		hashes = []string{}
	}
	return hashes, nil
}

// PendingSwaps returns the records indexed under address whose visible
// status equals status.
func (l *Lookup) PendingSwaps(address string, status Status) ([]*Record, error) {
	rows, err := l.store.GetSwapsForAddress(ledger.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec := recordFromStorage(row)
		if rec.Status() == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SwapsForAddress returns every record indexed under address.
func (l *Lookup) SwapsForAddress(address string) ([]*Record, error) {
	rows, err := l.store.GetSwapsForAddress(ledger.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	return recordsFromStorage(rows), nil
}

// ListSwaps returns recent records, newest first.
func (l *Lookup) ListSwaps(limit int, includeCompleted bool) ([]*Record, error) {
	rows, err := l.store.ListSwaps(limit, includeCompleted)
	if err != nil {
		return nil, err
	}
	return recordsFromStorage(rows), nil
}

// SwapCount returns the number of in-flight and terminal records.
func (l *Lookup) SwapCount() (pending, completed int, err error) {
	return l.store.SwapCount()
}

// FindPlatform returns the adapter registered under name.
func (l *Lookup) FindPlatform(name string) (Adapter, error) {
	return l.registry.Find(name)
}

// FindPlatformByAddress returns the name of the non-local platform whose
// external address equals address, or "" when none does.
func (l *Lookup) FindPlatformByAddress(address string) string {
	want := ledger.NormalizeAddress(address)
	if want == "" {
		return ""
	}
	for _, a := range l.registry.Adapters() {
		if l.registry.IsLocal(a.Name()) {
			continue
		}
		if ledger.NormalizeAddress(a.ExternalAddress()) == want {
			return a.Name()
		}
	}
	return ""
}

// FindTokenBySymbol returns token metadata for symbol.
func (l *Lookup) FindTokenBySymbol(symbol string) (*ledger.Token, error) {
	token, err := ledger.FindBySymbol(l.ledger, symbol)
	if err != nil {
		return nil, fmt.Errorf("token %q: %w", symbol, err)
	}
	return token, nil
}

// FindTokenByHash returns the token whose symbol hash matches hash.
func (l *Lookup) FindTokenByHash(hash string) (*ledger.Token, error) {
	return ledger.FindByHash(l.ledger, hash)
}

// Tokens returns metadata for every token the ledger knows.
func (l *Lookup) Tokens() ([]*ledger.Token, error) {
	symbols := l.ledger.Tokens()
	out := make([]*ledger.Token, 0, len(symbols))
	for _, symbol := range symbols {
		token, err := l.ledger.GetTokenInfo(symbol)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", symbol, err)
		}
		out = append(out, token)
	}
	return out, nil
}

// Describe formats a record the same way the driver logs it.
func (l *Lookup) Describe(rec *Record) string {
	return describe(l.ledger, rec)
}

func recordsFromStorage(rows []*storage.SwapRecord) []*Record {
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromStorage(row))
	}
	return out
}
