package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

type watcherRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// newWatcher serves handler results keyed by method.
func newWatcher(t *testing.T, handler func(req watcherRequest) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req watcherRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.ID == "" {
			t.Errorf("request %s has no id", req.Method)
		}

		result, rpcErr := handler(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a, err := New(Config{Name: "eth", ExternalAddress: "0xabc", Endpoint: url, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Endpoint: "http://localhost:1"}},
		{"missing endpoint", Config{Name: "eth"}},
		{"relative endpoint", Config{Name: "eth", Endpoint: "localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestPollUpdates(t *testing.T) {
	server := newWatcher(t, func(req watcherRequest) (interface{}, *RPCError) {
		if req.Method != MethodPollUpdates {
			t.Errorf("expected %s, got %s", MethodPollUpdates, req.Method)
		}
		return map[string]interface{}{
			"swaps": []map[string]interface{}{
				{
					"source_hash":          "0xdead",
					"source_address":       "0x1111",
					"destination_platform": "local",
					"destination_address":  "P2Kalice",
					"symbol":               "ETH",
					"amount":               "123456789012345678901234567890",
				},
				{"source_hash": "0xbad", "amount": "-1"},
			},
		}, nil
	})

	a := newTestAdapter(t, server.URL)
	swaps, err := a.PollUpdates(context.Background())
	if err != nil {
		t.Fatalf("PollUpdates: %v", err)
	}
	if len(swaps) != 1 {
		t.Fatalf("expected 1 swap (malformed dropped), got %d", len(swaps))
	}

	got := swaps[0]
	if got.SourcePlatform != "eth" {
		t.Errorf("expected source platform defaulted to eth, got %q", got.SourcePlatform)
	}
	if got.Amount.String() != "123456789012345678901234567890" {
		t.Errorf("expected amount beyond 64 bits, got %s", got.Amount)
	}
	if got.DestinationAddress != "P2Kalice" {
		t.Errorf("unexpected destination %q", got.DestinationAddress)
	}
}

func TestPrepareBroker(t *testing.T) {
	tests := []struct {
		reply      map[string]string
		wantResult swap.BrokerResult
		wantID     string
		wantErr    bool
	}{
		{map[string]string{"result": "ready", "broker_id": "escrow-1"}, swap.BrokerReady, "escrow-1", false},
		{map[string]string{"result": "skip"}, swap.BrokerSkip, "", false},
		{map[string]string{"result": "error"}, swap.BrokerError, "", false},
		{map[string]string{"result": "maybe"}, swap.BrokerError, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.reply["result"], func(t *testing.T) {
			server := newWatcher(t, func(req watcherRequest) (interface{}, *RPCError) {
				var params struct {
					Swap wireSwap `json:"swap"`
				}
				if err := json.Unmarshal(req.Params, &params); err != nil {
					t.Errorf("decode params: %v", err)
				}
				if params.Swap.SourceHash != "h1" || params.Swap.Amount != "42" {
					t.Errorf("unexpected swap params %+v", params.Swap)
				}
				return tt.reply, nil
			})

			a := newTestAdapter(t, server.URL)
			result, id, err := a.PrepareBroker(context.Background(), &swap.Record{SourceHash: "h1", Amount: big.NewInt(42)})
			if (err != nil) != tt.wantErr {
				t.Fatalf("PrepareBroker error = %v, wantErr %v", err, tt.wantErr)
			}
			if result != tt.wantResult || id != tt.wantID {
				t.Errorf("got (%s, %q), want (%s, %q)", result, id, tt.wantResult, tt.wantID)
			}
		})
	}
}

func TestReceiveAndSettle(t *testing.T) {
	server := newWatcher(t, func(req watcherRequest) (interface{}, *RPCError) {
		switch req.Method {
		case MethodReceiveFunds:
			return map[string]string{"hash": "0xpayout"}, nil
		case MethodSettle:
			var params map[string]string
			json.Unmarshal(req.Params, &params)
			if params["hash"] != "0xpayout" || params["platform"] != "local" {
				t.Errorf("unexpected settle params %v", params)
			}
			return map[string]string{"hash": ""}, nil
		}
		return nil, &RPCError{Code: -32601, Message: "method not found"}
	})

	a := newTestAdapter(t, server.URL)
	ctx := context.Background()

	hash, err := a.ReceiveFunds(ctx, &swap.Record{SourceHash: "h1"})
	if err != nil {
		t.Fatalf("ReceiveFunds: %v", err)
	}
	if hash != "0xpayout" {
		t.Errorf("expected 0xpayout, got %q", hash)
	}

	settled, err := a.Settle(ctx, "0xpayout", "local")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled != "" {
		t.Errorf("expected not yet settled, got %q", settled)
	}
}

func TestRemoteError(t *testing.T) {
	server := newWatcher(t, func(req watcherRequest) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "node syncing"}
	})

	a := newTestAdapter(t, server.URL)
	_, err := a.ReceiveFunds(context.Background(), &swap.Record{SourceHash: "h1"})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("expected code -32000, got %d", rpcErr.Code)
	}
}

func TestHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)
	if _, err := a.PollUpdates(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}

func TestBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "watcher" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req watcherRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": map[string]interface{}{"swaps": []interface{}{}},
		})
	}))
	defer server.Close()

	a, err := New(Config{Name: "eth", Endpoint: server.URL, User: "watcher", Password: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	swaps, err := a.PollUpdates(context.Background())
	if err != nil {
		t.Fatalf("PollUpdates: %v", err)
	}
	if len(swaps) != 0 {
		t.Errorf("expected no swaps, got %d", len(swaps))
	}
}
