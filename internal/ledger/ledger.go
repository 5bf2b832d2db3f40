// Package ledger exposes the narrow token lookups the swap engine needs from
// the local ledger.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Ledger errors
var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrDuplicateToken = errors.New("duplicate token symbol")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidHash    = errors.New("invalid token hash")
)

// HashSize is the size of a token hash in bytes.
const HashSize = 32

// Token describes an asset known to the ledger.
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Hash     string `json:"hash"` // hex, no prefix
}

// String implements fmt.Stringer.
func (t *Token) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Symbol)
}

// Ledger is the lookup surface of the ledger collaborator.
type Ledger interface {
	TokenExists(symbol string) bool
	GetTokenInfo(symbol string) (*Token, error)
	Tokens() []string
}

// TokenHash returns the Keccak-256 hash of a token symbol as hex.
func TokenHash(symbol string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(symbol))
	return hex.EncodeToString(h.Sum(nil))
}

// Registry is a static Ledger built once from configuration.
type Registry struct {
	tokens map[string]*Token
	order  []string
}

// NewRegistry builds a registry. Hashes left empty are derived from the symbol.
func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{tokens: make(map[string]*Token, len(tokens))}
	for i := range tokens {
		t := tokens[i]
		if t.Symbol == "" {
			return nil, fmt.Errorf("%w: empty symbol at index %d", ErrInvalidToken, i)
		}
		if _, ok := r.tokens[t.Symbol]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, t.Symbol)
		}
		if t.Name == "" {
			t.Name = t.Symbol
		}
		if t.Hash == "" {
			t.Hash = TokenHash(t.Symbol)
		} else {
			norm, err := normalizeHash(t.Hash)
			if err != nil {
				return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
			}
			t.Hash = norm
		}
		r.tokens[t.Symbol] = &t
		r.order = append(r.order, t.Symbol)
	}
	return r, nil
}

// TokenExists reports whether symbol is registered.
func (r *Registry) TokenExists(symbol string) bool {
	_, ok := r.tokens[symbol]
	return ok
}

// GetTokenInfo returns the token registered under symbol.
func (r *Registry) GetTokenInfo(symbol string) (*Token, error) {
	t, ok := r.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, symbol)
	}
	cp := *t
	return &cp, nil
}

// Tokens returns all symbols in registration order.
func (r *Registry) Tokens() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// FindByHash scans the ledger for a token whose hash matches hashText.
// hashText may be unpadded and may carry a 0x prefix.
func FindByHash(l Ledger, hashText string) (*Token, error) {
	want, err := normalizeHash(hashText)
	if err != nil {
		return nil, err
	}
	for _, symbol := range l.Tokens() {
		t, err := l.GetTokenInfo(symbol)
		if err != nil {
			continue
		}
		if t.Hash == want {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: hash %s", ErrTokenNotFound, hashText)
}

// FindBySymbol returns the token for symbol, or ErrTokenNotFound.
func FindBySymbol(l Ledger, symbol string) (*Token, error) {
	if !l.TokenExists(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, symbol)
	}
	return l.GetTokenInfo(symbol)
}

// normalizeHash left-pads an unpadded hex hash to HashSize bytes.
func normalizeHash(s string) (string, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if s == "" || len(s) > HashSize*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	padded := make([]byte, HashSize)
	copy(padded[HashSize-len(b):], b)
	return hex.EncodeToString(padded), nil
}
