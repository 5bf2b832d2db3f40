// Package stub provides an in-memory platform adapter with scriptable
// responses. It reports every registered transfer on each poll, the same
// way a real platform re-reports unconfirmed events.
package stub

import (
	"context"
	"sync"

	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

// Method names counted by Calls.
const (
	MethodPoll    = "poll"
	MethodBroker  = "broker"
	MethodReceive = "receive"
	MethodSettle  = "settle"
)

// BrokerFunc scripts PrepareBroker.
type BrokerFunc func(rec *swap.Record) (swap.BrokerResult, string, error)

// ReceiveFunc scripts ReceiveFunds.
type ReceiveFunc func(rec *swap.Record) (string, error)

// SettleFunc scripts Settle.
type SettleFunc func(hash, counterPlatform string) (string, error)

// Adapter is a scriptable swap.Adapter.
type Adapter struct {
	name    string
	address string

	mu       sync.Mutex
	reported []*swap.Record
	pollErr  error
	broker   BrokerFunc
	receive  ReceiveFunc
	settle   SettleFunc
	calls    map[string]int
	settled  []SettleCall
}

// SettleCall records the arguments of one Settle invocation.
type SettleCall struct {
	Hash            string
	CounterPlatform string
}

// New creates an adapter whose actions all succeed immediately.
func New(name, address string) *Adapter {
	a := &Adapter{
		name:    name,
		address: address,
		calls:   make(map[string]int),
	}
	a.broker = func(rec *swap.Record) (swap.BrokerResult, string, error) {
		return swap.BrokerReady, "broker-" + rec.SourceHash, nil
	}
	a.receive = func(rec *swap.Record) (string, error) {
		return name + "-tx-" + rec.SourceHash, nil
	}
	a.settle = func(hash, _ string) (string, error) {
		return "settle-" + hash, nil
	}
	return a
}

// Report adds transfers to what every subsequent poll returns.
func (a *Adapter) Report(recs ...*swap.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range recs {
		a.reported = append(a.reported, rec.Clone())
	}
}

// Forget stops reporting the transfer with sourceHash.
func (a *Adapter) Forget(sourceHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.reported[:0]
	for _, rec := range a.reported {
		if rec.SourceHash != sourceHash {
			kept = append(kept, rec)
		}
	}
	a.reported = kept
}

// FailPoll makes PollUpdates return err until called again with nil.
func (a *Adapter) FailPoll(err error) {
	a.mu.Lock()
	a.pollErr = err
	a.mu.Unlock()
}

// OnBroker replaces the PrepareBroker script.
func (a *Adapter) OnBroker(fn BrokerFunc) {
	a.mu.Lock()
	a.broker = fn
	a.mu.Unlock()
}

// OnReceive replaces the ReceiveFunds script.
func (a *Adapter) OnReceive(fn ReceiveFunc) {
	a.mu.Lock()
	a.receive = fn
	a.mu.Unlock()
}

// OnSettle replaces the Settle script.
func (a *Adapter) OnSettle(fn SettleFunc) {
	a.mu.Lock()
	a.settle = fn
	a.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (a *Adapter) Calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

// SettleCalls returns the arguments of every Settle call so far.
func (a *Adapter) SettleCalls() []SettleCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SettleCall, len(a.settled))
	copy(out, a.settled)
	return out
}

// Name implements swap.Adapter.
func (a *Adapter) Name() string { return a.name }

// ExternalAddress implements swap.Adapter.
func (a *Adapter) ExternalAddress() string { return a.address }

// PollUpdates implements swap.Adapter.
func (a *Adapter) PollUpdates(ctx context.Context) ([]*swap.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[MethodPoll]++
	if a.pollErr != nil {
		return nil, a.pollErr
	}

	out := make([]*swap.Record, 0, len(a.reported))
	for _, rec := range a.reported {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// PrepareBroker implements swap.Adapter.
func (a *Adapter) PrepareBroker(ctx context.Context, rec *swap.Record) (swap.BrokerResult, string, error) {
	a.mu.Lock()
	a.calls[MethodBroker]++
	fn := a.broker
	a.mu.Unlock()
	return fn(rec)
}

// ReceiveFunds implements swap.Adapter.
func (a *Adapter) ReceiveFunds(ctx context.Context, rec *swap.Record) (string, error) {
	a.mu.Lock()
	a.calls[MethodReceive]++
	fn := a.receive
	a.mu.Unlock()
	return fn(rec)
}

// Settle implements swap.Adapter.
func (a *Adapter) Settle(ctx context.Context, hash, counterPlatform string) (string, error) {
	a.mu.Lock()
	a.calls[MethodSettle]++
	a.settled = append(a.settled, SettleCall{Hash: hash, CounterPlatform: counterPlatform})
	fn := a.settle
	a.mu.Unlock()
	return fn(hash, counterPlatform)
}

var _ swap.Adapter = (*Adapter)(nil)
