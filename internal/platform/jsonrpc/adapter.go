// Package jsonrpc implements a platform adapter that forwards every swap
// action to an external watcher service over JSON-RPC 2.0.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/klingon-bridge/internal/swap"
	"github.com/klingon-exchange/klingon-bridge/pkg/logging"
)

// Remote method names.
const (
	MethodPollUpdates   = "platform_pollUpdates"
	MethodPrepareBroker = "platform_prepareBroker"
	MethodReceiveFunds  = "platform_receiveFunds"
	MethodSettle        = "platform_settle"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 30 * time.Second

var (
	ErrInvalidConfig  = errors.New("invalid jsonrpc adapter config")
	ErrInvalidPayload = errors.New("invalid watcher payload")
)

// RPCError is an error object returned by the watcher.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Config configures one remote platform.
type Config struct {
	Name            string
	ExternalAddress string
	Endpoint        string
	User            string
	Password        string
	Timeout         time.Duration
}

// Adapter implements swap.Adapter against a remote watcher.
type Adapter struct {
	name     string
	address  string
	endpoint string
	user     string
	pass     string

	httpClient *http.Client
	log        *logging.Logger
}

// New creates an adapter for cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: platform %s has bad endpoint %q", ErrInvalidConfig, cfg.Name, cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Adapter{
		name:     cfg.Name,
		address:  cfg.ExternalAddress,
		endpoint: cfg.Endpoint,
		user:     cfg.User,
		pass:     cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logging.GetDefault().Component("platform").With("platform", cfg.Name),
	}, nil
}

// Name implements swap.Adapter.
func (a *Adapter) Name() string { return a.name }

// ExternalAddress implements swap.Adapter.
func (a *Adapter) ExternalAddress() string { return a.address }

// wireSwap is the watcher's view of a transfer. Amounts travel as decimal
// strings so values above 2^53 survive JavaScript watchers.
type wireSwap struct {
	SourceHash          string `json:"source_hash"`
	SourcePlatform      string `json:"source_platform"`
	SourceAddress       string `json:"source_address"`
	DestinationPlatform string `json:"destination_platform"`
	DestinationAddress  string `json:"destination_address"`
	Symbol              string `json:"symbol"`
	Amount              string `json:"amount"`
	State               string `json:"state,omitempty"`
	BrokerID            string `json:"broker_id,omitempty"`
	DestinationHash     string `json:"destination_hash,omitempty"`
}

func toWire(rec *swap.Record) wireSwap {
	return wireSwap{
		SourceHash:          rec.SourceHash,
		SourcePlatform:      rec.SourcePlatform,
		SourceAddress:       rec.SourceAddress,
		DestinationPlatform: rec.DestinationPlatform,
		DestinationAddress:  rec.DestinationAddress,
		Symbol:              rec.Symbol,
		Amount:              amountText(rec.Amount),
		State:               string(rec.State),
		BrokerID:            rec.BrokerID,
		DestinationHash:     rec.DestinationHash,
	}
}

func (w wireSwap) record() (*swap.Record, error) {
	amount := new(big.Int)
	if w.Amount != "" {
		if _, ok := amount.SetString(w.Amount, 10); !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: swap %s amount %q", ErrInvalidPayload, w.SourceHash, w.Amount)
		}
	}
	return &swap.Record{
		SourceHash:          w.SourceHash,
		SourcePlatform:      w.SourcePlatform,
		SourceAddress:       w.SourceAddress,
		DestinationPlatform: w.DestinationPlatform,
		DestinationAddress:  w.DestinationAddress,
		Symbol:              w.Symbol,
		Amount:              amount,
		State:               swap.State(w.State),
		BrokerID:            w.BrokerID,
		DestinationHash:     w.DestinationHash,
	}, nil
}

func amountText(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// PollUpdates implements swap.Adapter.
func (a *Adapter) PollUpdates(ctx context.Context) ([]*swap.Record, error) {
	var reply struct {
		Swaps []wireSwap `json:"swaps"`
	}
	if err := a.call(ctx, MethodPollUpdates, map[string]string{"platform": a.name}, &reply); err != nil {
		return nil, err
	}

	out := make([]*swap.Record, 0, len(reply.Swaps))
	for _, w := range reply.Swaps {
		rec, err := w.record()
		if err != nil {
			// One malformed entry shouldn't hide the rest of the batch.
			a.log.Warn("Dropping malformed swap", "error", err)
			continue
		}
		if rec.SourcePlatform == "" {
			rec.SourcePlatform = a.name
		}
		out = append(out, rec)
	}
	return out, nil
}

// PrepareBroker implements swap.Adapter.
func (a *Adapter) PrepareBroker(ctx context.Context, rec *swap.Record) (swap.BrokerResult, string, error) {
	var reply struct {
		Result   string `json:"result"`
		BrokerID string `json:"broker_id"`
	}
	if err := a.call(ctx, MethodPrepareBroker, map[string]interface{}{"swap": toWire(rec)}, &reply); err != nil {
		return swap.BrokerError, "", err
	}

	switch reply.Result {
	case "ready":
		return swap.BrokerReady, reply.BrokerID, nil
	case "skip":
		return swap.BrokerSkip, "", nil
	case "error":
		return swap.BrokerError, "", nil
	default:
		return swap.BrokerError, "", fmt.Errorf("%w: broker result %q", ErrInvalidPayload, reply.Result)
	}
}

// ReceiveFunds implements swap.Adapter.
func (a *Adapter) ReceiveFunds(ctx context.Context, rec *swap.Record) (string, error) {
	var reply struct {
		Hash string `json:"hash"`
	}
	if err := a.call(ctx, MethodReceiveFunds, map[string]interface{}{"swap": toWire(rec)}, &reply); err != nil {
		return "", err
	}
	return reply.Hash, nil
}

// Settle implements swap.Adapter.
func (a *Adapter) Settle(ctx context.Context, hash, counterPlatform string) (string, error) {
	var reply struct {
		Hash string `json:"hash"`
	}
	params := map[string]string{
		"hash":     hash,
		"platform": counterPlatform,
	}
	if err := a.call(ctx, MethodSettle, params, &reply); err != nil {
		return "", err
	}
	return reply.Hash, nil
}

func (a *Adapter) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := uuid.NewString()

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.user != "" {
		req.SetBasicAuth(a.user, a.pass)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.name, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected HTTP status %d", a.name, method, resp.StatusCode)
	}

	var response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return response.Error
	}
	if response.ID != id {
		return fmt.Errorf("%w: response id %q does not match request %q", ErrInvalidPayload, response.ID, id)
	}

	a.log.Debug("Platform call", "method", method, "took", time.Since(start))

	if out == nil || len(response.Result) == 0 || string(response.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("%w: %s result: %v", ErrInvalidPayload, method, err)
	}
	return nil
}

var _ swap.Adapter = (*Adapter)(nil)
