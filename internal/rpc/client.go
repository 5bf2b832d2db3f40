package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
)

// DefaultClientTimeout bounds a single client call.
const DefaultClientTimeout = 10 * time.Second

// Client calls the bridge daemon's JSON-RPC API.
type Client struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a client for the API at url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsNotFound reports whether err is a NotFound error from the daemon.
func IsNotFound(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == NotFound
}

// Call invokes method and decodes the result into out. Daemon errors are
// returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected HTTP status %d", method, resp.StatusCode)
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return response.Error
	}

	if out == nil || len(response.Result) == 0 {
		return nil
	}
	return json.Unmarshal(response.Result, out)
}

// Info calls bridge_info.
func (c *Client) Info(ctx context.Context) (*BridgeInfoResult, error) {
	var out BridgeInfoResult
	if err := c.Call(ctx, "bridge_info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls bridge_status.
func (c *Client) Status(ctx context.Context) (*BridgeStatusResult, error) {
	var out BridgeStatusResult
	if err := c.Call(ctx, "bridge_status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSwap calls swap_get.
func (c *Client) GetSwap(ctx context.Context, sourceHash string) (*SwapInfo, error) {
	var out SwapInfo
	if err := c.Call(ctx, "swap_get", SwapHashParams{SourceHash: sourceHash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSwaps calls swap_list.
func (c *Client) ListSwaps(ctx context.Context, limit int, includeCompleted bool) ([]SwapInfo, error) {
	var out SwapListResult
	params := SwapListParams{Limit: limit, IncludeCompleted: includeCompleted}
	if err := c.Call(ctx, "swap_list", params, &out); err != nil {
		return nil, err
	}
	return out.Swaps, nil
}

// SwapHashesForAddress calls swap_listByAddress for the hash-only view.
func (c *Client) SwapHashesForAddress(ctx context.Context, address string) ([]string, error) {
	var out SwapHashesResult
	if err := c.Call(ctx, "swap_listByAddress", SwapsByAddressParams{Address: address}, &out); err != nil {
		return nil, err
	}
	return out.Hashes, nil
}

// SwapsForAddress calls swap_listByAddress for full records, optionally
// filtered by status.
func (c *Client) SwapsForAddress(ctx context.Context, address, status string) ([]SwapInfo, error) {
	var out SwapListResult
	params := SwapsByAddressParams{Address: address, Status: status, Full: true}
	if err := c.Call(ctx, "swap_listByAddress", params, &out); err != nil {
		return nil, err
	}
	return out.Swaps, nil
}

// Platforms calls platform_list.
func (c *Client) Platforms(ctx context.Context) ([]PlatformInfo, error) {
	var out struct {
		Platforms []PlatformInfo `json:"platforms"`
	}
	if err := c.Call(ctx, "platform_list", nil, &out); err != nil {
		return nil, err
	}
	return out.Platforms, nil
}

// FindPlatformByAddress calls platform_findByAddress. An empty name means
// the address is not a platform's external address.
func (c *Client) FindPlatformByAddress(ctx context.Context, address string) (string, error) {
	var out struct {
		Platform string `json:"platform"`
	}
	if err := c.Call(ctx, "platform_findByAddress", AddressParams{Address: address}, &out); err != nil {
		return "", err
	}
	return out.Platform, nil
}

// Tokens calls token_list.
func (c *Client) Tokens(ctx context.Context) ([]*ledger.Token, error) {
	var out struct {
		Tokens []*ledger.Token `json:"tokens"`
	}
	if err := c.Call(ctx, "token_list", nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// FindToken calls token_find. Exactly one of symbol and hash is set.
func (c *Client) FindToken(ctx context.Context, symbol, hash string) (*ledger.Token, error) {
	var out ledger.Token
	if err := c.Call(ctx, "token_find", TokenFindParams{Symbol: symbol, Hash: hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
