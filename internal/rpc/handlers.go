package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

// Version of the daemon
const Version = "0.1.0-dev"

// DefaultListLimit caps swap_list when no limit is given.
const DefaultListLimit = 100

// parseParams decodes params into v. Empty params leave v untouched.
func parseParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

// ========================================
// Bridge handlers
// ========================================

// BridgeInfoResult is the response for bridge_info.
type BridgeInfoResult struct {
	Version       string   `json:"version"`
	DataDir       string   `json:"data_dir"`
	LocalPlatform string   `json:"local_platform"`
	Platforms     []string `json:"platforms"`
	Tokens        []string `json:"tokens"`
	Uptime        string   `json:"uptime"`
}

func (s *Server) bridgeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	registry := s.lookup.Registry()
	return &BridgeInfoResult{
		Version:       s.info.Version,
		DataDir:       s.info.DataDir,
		LocalPlatform: registry.Local(),
		Platforms:     registry.Names(),
		Tokens:        s.tokenSymbols(),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
	}, nil
}

// BridgeStatusResult is the response for bridge_status.
type BridgeStatusResult struct {
	Running   bool   `json:"running"`
	Pending   int    `json:"pending"`
	Completed int    `json:"completed"`
	Uptime    string `json:"uptime"`
	WSClients int    `json:"ws_clients"`
}

func (s *Server) bridgeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	pending, completed, err := s.lookup.SwapCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count swaps: %w", err)
	}

	return &BridgeStatusResult{
		Running:   true,
		Pending:   pending,
		Completed: completed,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		WSClients: s.wsHub.ClientCount(),
	}, nil
}

// ========================================
// Swap handlers
// ========================================

// SwapInfo represents a swap in RPC responses.
type SwapInfo struct {
	SourceHash          string `json:"source_hash"`
	SourcePlatform      string `json:"source_platform"`
	SourceAddress       string `json:"source_address"`
	DestinationPlatform string `json:"destination_platform"`
	DestinationAddress  string `json:"destination_address"`
	Symbol              string `json:"symbol"`
	Amount              string `json:"amount"` // Base-10 smallest units
	Status              string `json:"status"`
	State               string `json:"state"`
	Attempts            int    `json:"attempts,omitempty"`
	BrokerID            string `json:"broker_id,omitempty"`
	DestinationHash     string `json:"destination_hash,omitempty"`
	SettleHash          string `json:"settle_hash,omitempty"`
	NextAttemptAt       *int64 `json:"next_attempt_at,omitempty"`
	CreatedAt           int64  `json:"created_at,omitempty"`
	UpdatedAt           int64  `json:"updated_at,omitempty"`
	CompletedAt         *int64 `json:"completed_at,omitempty"`
	Summary             string `json:"summary"`
}

func (s *Server) swapToInfo(rec *swap.Record) SwapInfo {
	info := SwapInfo{
		SourceHash:          rec.SourceHash,
		SourcePlatform:      rec.SourcePlatform,
		SourceAddress:       rec.SourceAddress,
		DestinationPlatform: rec.DestinationPlatform,
		DestinationAddress:  rec.DestinationAddress,
		Symbol:              rec.Symbol,
		Amount:              amountText(rec.Amount),
		Status:              string(rec.Status()),
		State:               string(rec.State),
		Attempts:            rec.Attempts,
		BrokerID:            rec.BrokerID,
		DestinationHash:     rec.DestinationHash,
		SettleHash:          rec.SettleHash,
		Summary:             s.lookup.Describe(rec),
	}
	if !rec.CreatedAt.IsZero() {
		info.CreatedAt = rec.CreatedAt.Unix()
	}
	if !rec.UpdatedAt.IsZero() {
		info.UpdatedAt = rec.UpdatedAt.Unix()
	}
	if !rec.NextAttemptAt.IsZero() && rec.State == swap.StateSettle {
		ts := rec.NextAttemptAt.Unix()
		info.NextAttemptAt = &ts
	}
	if !rec.CompletedAt.IsZero() {
		ts := rec.CompletedAt.Unix()
		info.CompletedAt = &ts
	}
	return info
}

func amountText(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func (s *Server) swapsToInfo(recs []*swap.Record) []SwapInfo {
	out := make([]SwapInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.swapToInfo(rec))
	}
	return out
}

// SwapHashParams are the params for swap_get and swap_has.
type SwapHashParams struct {
	SourceHash string `json:"source_hash"`
}

func (p *SwapHashParams) parse(params json.RawMessage) error {
	if err := parseParams(params, p); err != nil {
		return err
	}
	if p.SourceHash == "" {
		return invalidParams("source_hash is required")
	}
	return nil
}

func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapHashParams
	if err := p.parse(params); err != nil {
		return nil, err
	}

	rec, err := s.lookup.GetSwap(p.SourceHash)
	if err != nil {
		return nil, fmt.Errorf("swap %s: %w", p.SourceHash, err)
	}
	return s.swapToInfo(rec), nil
}

func (s *Server) swapHas(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapHashParams
	if err := p.parse(params); err != nil {
		return nil, err
	}

	exists, err := s.lookup.HasSwap(p.SourceHash)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"exists": exists}, nil
}

// SwapListParams are the params for swap_list.
type SwapListParams struct {
	Limit            int  `json:"limit,omitempty"`
	IncludeCompleted bool `json:"include_completed,omitempty"`
}

// SwapListResult is the response for swap_list and swap_listByAddress.
type SwapListResult struct {
	Swaps []SwapInfo `json:"swaps"`
	Count int        `json:"count"`
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapListParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}

	recs, err := s.lookup.ListSwaps(p.Limit, p.IncludeCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}

	swaps := s.swapsToInfo(recs)
	return &SwapListResult{Swaps: swaps, Count: len(swaps)}, nil
}

// SwapsByAddressParams are the params for swap_listByAddress.
type SwapsByAddressParams struct {
	Address string `json:"address"`
	Status  string `json:"status,omitempty"`
	Full    bool   `json:"full,omitempty"`
}

// SwapHashesResult is the hash-only response for swap_listByAddress.
type SwapHashesResult struct {
	Hashes []string `json:"hashes"`
}

// swapListByAddress returns the hashes indexed under an address, or the
// full records when a status filter or full is given.
func (s *Server) swapListByAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapsByAddressParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, invalidParams("address is required")
	}

	if p.Status != "" {
		status, err := swap.ParseStatus(p.Status)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		recs, err := s.lookup.PendingSwaps(p.Address, status)
		if err != nil {
			return nil, err
		}
		swaps := s.swapsToInfo(recs)
		return &SwapListResult{Swaps: swaps, Count: len(swaps)}, nil
	}

	if p.Full {
		recs, err := s.lookup.SwapsForAddress(p.Address)
		if err != nil {
			return nil, err
		}
		swaps := s.swapsToInfo(recs)
		return &SwapListResult{Swaps: swaps, Count: len(swaps)}, nil
	}

	hashes, err := s.lookup.SwapHashesForAddress(p.Address)
	if err != nil {
		return nil, err
	}
	return &SwapHashesResult{Hashes: hashes}, nil
}

// ========================================
// Platform and token handlers
// ========================================

// PlatformInfo represents a registered platform.
type PlatformInfo struct {
	Name            string `json:"name"`
	ExternalAddress string `json:"external_address"`
	Local           bool   `json:"local"`
}

func (s *Server) platformList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	registry := s.lookup.Registry()
	adapters := registry.Adapters()

	out := make([]PlatformInfo, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, PlatformInfo{
			Name:            a.Name(),
			ExternalAddress: a.ExternalAddress(),
			Local:           registry.IsLocal(a.Name()),
		})
	}
	return map[string]interface{}{"platforms": out}, nil
}

// AddressParams are the params for platform_findByAddress.
type AddressParams struct {
	Address string `json:"address"`
}

func (s *Server) platformFindByAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AddressParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, invalidParams("address is required")
	}

	return map[string]string{"platform": s.lookup.FindPlatformByAddress(p.Address)}, nil
}

func (s *Server) tokenSymbols() []string {
	tokens, err := s.lookup.Tokens()
	if err != nil {
		return []string{}
	}
	symbols := make([]string, 0, len(tokens))
	for _, t := range tokens {
		symbols = append(symbols, t.Symbol)
	}
	return symbols
}

func (s *Server) tokenList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	tokens, err := s.lookup.Tokens()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tokens": tokens}, nil
}

// TokenFindParams are the params for token_find. Exactly one field is set.
type TokenFindParams struct {
	Symbol string `json:"symbol,omitempty"`
	Hash   string `json:"hash,omitempty"`
}

func (s *Server) tokenFind(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TokenFindParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	var (
		token *ledger.Token
		err   error
	)
	switch {
	case p.Symbol != "" && p.Hash != "":
		return nil, invalidParams("give either symbol or hash, not both")
	case p.Symbol != "":
		token, err = s.lookup.FindTokenBySymbol(p.Symbol)
	case p.Hash != "":
		token, err = s.lookup.FindTokenByHash(p.Hash)
		if err != nil && !errors.Is(err, ledger.ErrTokenNotFound) {
			return nil, invalidParams("%v", err)
		}
	default:
		return nil, invalidParams("symbol or hash is required")
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}
