package swap

import (
	"context"
	"fmt"
)

// DefaultLocalPlatform is the reserved name of the local ledger's adapter.
const DefaultLocalPlatform = "local"

// Adapter is the per-platform collaborator that observes transfers and
// performs the platform-specific actions. Calls are synchronous; adapters
// should apply their own timeouts.
type Adapter interface {
	// Name is the stable platform identifier.
	Name() string

	// ExternalAddress is the adapter's externally visible address.
	ExternalAddress() string

	// PollUpdates returns the transfers the adapter knows about. The same
	// transfer may be reported on every call.
	PollUpdates(ctx context.Context) ([]*Record, error)

	// PrepareBroker locks or escrows source-side funds and returns a broker id.
	PrepareBroker(ctx context.Context, rec *Record) (BrokerResult, string, error)

	// ReceiveFunds performs the destination-side payout and returns the
	// destination transaction hash. An empty hash means failure.
	ReceiveFunds(ctx context.Context, rec *Record) (string, error)

	// Settle acknowledges completion of hash on counterPlatform. An empty
	// result means not yet.
	Settle(ctx context.Context, hash, counterPlatform string) (string, error)
}

// Registry maps platform names to adapters. It is built once at startup
// and never mutated afterwards.
type Registry struct {
	local    string
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry. One adapter must be named local.
func NewRegistry(local string, adapters ...Adapter) (*Registry, error) {
	if local == "" {
		local = DefaultLocalPlatform
	}

	r := &Registry{
		local:    local,
		adapters: make(map[string]Adapter, len(adapters)),
	}
	for _, a := range adapters {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: adapter with empty name", ErrUnknownPlatform)
		}
		if _, ok := r.adapters[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlatform, name)
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	if _, ok := r.adapters[local]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingLocal, local)
	}

	return r, nil
}

// Local returns the name of the local ledger platform.
func (r *Registry) Local() string {
	return r.local
}

// IsLocal returns true if name is the local ledger platform.
func (r *Registry) IsLocal(name string) bool {
	return name == r.local
}

// Find returns the adapter registered under name. Unknown names fail with
// a TransferError carrying FailurePlatform.
func (r *Registry) Find(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, &TransferError{
			Reason: FailurePlatform,
			Err:    fmt.Errorf("%w: could not find adapter for %q", ErrUnknownPlatform, name),
		}
	}
	return a, nil
}

// Names returns platform names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Adapters returns adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}
