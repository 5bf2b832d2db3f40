package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/storage"
	"github.com/klingon-exchange/klingon-bridge/pkg/logging"
)

// Driver defaults
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultFailureBackoff = 5 * time.Second
)

// Store is the durable swap store used by the driver and the lookups.
// *storage.Storage implements it.
type Store interface {
	SaveSwap(swap *storage.SwapRecord) error
	GetSwap(sourceHash string) (*storage.SwapRecord, error)
	HasSwap(sourceHash string) (bool, error)
	IndexSwap(sourceHash string, addresses ...string) error
	GetSwapHashesForAddress(address string) ([]string, error)
	GetSwapsForAddress(address string) ([]*storage.SwapRecord, error)
	ListSwaps(limit int, includeCompleted bool) ([]*storage.SwapRecord, error)
	SwapCount() (pending, completed int, err error)
}

// DriverConfig configures the reconciliation driver.
type DriverConfig struct {
	Store    Store
	Registry *Registry
	Ledger   ledger.Ledger
	Clock    Clock
	Observer Observer

	PollInterval   time.Duration // Pause between cycles
	FailureBackoff time.Duration // Extra pause after a failed cycle
	SettleGrace    time.Duration // Wait before the first settle attempt
	MaxTransitions int           // Per-candidate loop bound
}

// Driver runs the reconciliation loop: poll every adapter, merge what they
// report with the store, advance each transfer and persist the result.
type Driver struct {
	store    Store
	registry *Registry
	ledger   ledger.Ledger
	machine  *Machine
	observer Observer
	config   DriverConfig
	log      *logging.Logger

	// Cycles are serialized so Start and direct RunCycle calls never overlap.
	cycleMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewDriver creates a driver. Store, Registry and Ledger are required.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: store, registry and ledger are required", ErrInvalidDriverConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FailureBackoff < 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	if cfg.MaxTransitions <= 0 {
		cfg.MaxTransitions = DefaultMaxTransitions
	}

	return &Driver{
		store:    cfg.Store,
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		machine: NewMachine(MachineConfig{
			Registry:       cfg.Registry,
			Ledger:         cfg.Ledger,
			Clock:          cfg.Clock,
			SettleGrace:    cfg.SettleGrace,
			MaxTransitions: cfg.MaxTransitions,
		}),
		observer: cfg.Observer,
		config:   cfg,
		log:      logging.GetDefault().Component("swap-driver"),
	}, nil
}

// Machine returns the driver's state machine.
func (d *Driver) Machine() *Machine {
	return d.machine
}

// Start runs the loop in a background goroutine until Stop is called.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.run(ctx, d.done)
	d.log.Info("Swap driver started",
		"poll_interval", d.config.PollInterval,
		"platforms", d.registry.Names())
}

// Stop cancels the loop and waits for the current cycle to return.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()

	<-done
	d.log.Info("Swap driver stopped")
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := d.config.PollInterval
		if err := d.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error("Swap cycle failed", "error", err, "backoff", d.config.FailureBackoff)
			delay += d.config.FailureBackoff
		}
		timer.Reset(delay)
	}
}

// RunCycle performs one reconciliation pass over every registered adapter.
// Per-transfer adapter failures are recorded on the transfer; a polling
// or storage error aborts the pass and is returned.
func (d *Driver) RunCycle(ctx context.Context) error {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	log := d.log.With("cycle", uuid.NewString()[:8])

	for _, adapter := range d.registry.Adapters() {
		if err := ctx.Err(); err != nil {
			return err
		}

		candidates, err := adapter.PollUpdates(ctx)
		if err != nil {
			return fmt.Errorf("poll %s: %w", adapter.Name(), err)
		}
		if len(candidates) > 0 {
			log.Debug("Polled platform", "platform", adapter.Name(), "swaps", len(candidates))
		}

		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.reconcile(ctx, log, candidate); err != nil {
				return err
			}
		}
	}

	return nil
}

// reconcile merges one candidate with its stored record and advances it.
func (d *Driver) reconcile(ctx context.Context, log *logging.Logger, candidate *Record) error {
	if candidate == nil {
		return nil
	}
	if candidate.SourceHash == "" {
		log.Error("Rejecting swap", "error", ErrMissingSourceHash, "source", candidate.SourcePlatform)
		return nil
	}

	row, err := d.store.GetSwap(candidate.SourceHash)
	if err != nil && !errors.Is(err, storage.ErrSwapNotFound) {
		return fmt.Errorf("load swap %s: %w", candidate.SourceHash, err)
	}

	var (
		prev *Record
		rec  *Record
	)
	if row == nil {
		rec = newCandidate(candidate)
		if rec.DestinationAddress == "" {
			log.Error("Rejecting swap", "swap", rec.SourceHash, "error", ErrMissingDestination)
			return nil
		}
		if !rec.State.Valid() {
			log.Error("Rejecting swap", "swap", rec.SourceHash, "error", ErrUnknownState, "state", rec.State)
			return nil
		}
		if rec.Amount != nil && rec.Amount.Sign() < 0 {
			log.Error("Rejecting swap", "swap", rec.SourceHash, "error", ErrInvalidAmount, "amount", rec.Amount)
			return nil
		}
	} else {
		prev = recordFromStorage(row)
		if prev.State.IsTerminal() {
			return nil
		}
		rec = prev.Clone()
		rec.Failure = FailureNone
	}

	// Progress made before a fatal error is still written, so an adapter
	// call that already ran is never repeated on the next cycle.
	var fatal error
	advanceErr := d.machine.Advance(ctx, rec)
	if reason := FailureReasonOf(advanceErr); reason != FailureNone {
		rec.Failure = reason
		rec.Attempts++
		log.Debug("Swap step failed", "swap", rec.SourceHash, "state", rec.State, "error", advanceErr)
	} else if advanceErr != nil {
		fatal = advanceErr
	} else {
		rec.Attempts = 0
	}

	if prev == nil {
		if err := d.store.IndexSwap(rec.SourceHash, rec.SourceAddress, rec.DestinationAddress); err != nil {
			return fmt.Errorf("index swap %s: %w", rec.SourceHash, err)
		}
	} else if fatal != nil {
		// Without progress the parked failure and attempts stay as stored.
		unchanged := rec.Clone()
		unchanged.Failure = prev.Failure
		unchanged.Attempts = prev.Attempts
		if unchanged.persistedEqual(prev) {
			return fatal
		}
		rec.Attempts = 0
	} else if rec.persistedEqual(prev) {
		return nil
	}

	if err := d.store.SaveSwap(rec.toStorage()); err != nil {
		return fmt.Errorf("save swap %s: %w", rec.SourceHash, err)
	}

	if prev == nil || prev.Status() != rec.Status() {
		d.emit(log, rec)
	}
	return fatal
}

// emit logs and publishes a visible status change.
func (d *Driver) emit(log *logging.Logger, rec *Record) {
	kind := EventKindOf(rec)
	summary := d.Describe(rec)

	switch kind {
	case EventSuccess:
		log.Info("Swap finished", "swap", summary)
	case EventWaiting:
		log.Warn("Swap is waiting for "+string(rec.State), "swap", summary)
	case EventFailure:
		log.Error("Swap failed", "status", rec.Status(), "attempts", rec.Attempts, "swap", summary)
	}

	if d.observer != nil {
		d.observer.OnSwapEvent(Event{
			Kind:   kind,
			Status: rec.Status(),
			Swap:   rec.Clone(),
			Time:   d.config.Clock.Now(),
		})
	}
}

// Describe formats a record as "hash: source => destination: amount SYMBOL"
// using the token's decimals when the symbol is known.
func (d *Driver) Describe(rec *Record) string {
	return describe(d.ledger, rec)
}

func describe(l ledger.Ledger, rec *Record) string {
	amount := rec.amountText()
	if token, err := l.GetTokenInfo(rec.Symbol); err == nil {
		amount = ledger.FormatAmount(rec.Amount, token.Decimals)
	}
	return fmt.Sprintf("%s: %s => %s: %s %s",
		rec.SourceHash, rec.SourcePlatform, rec.DestinationPlatform, amount, rec.Symbol)
}

// newCandidate prepares a first-seen candidate for the machine.
func newCandidate(candidate *Record) *Record {
	rec := candidate.Clone()
	rec.SourceAddress = ledger.NormalizeAddress(rec.SourceAddress)
	rec.DestinationAddress = ledger.NormalizeAddress(rec.DestinationAddress)
	if rec.State == "" {
		rec.State = StatePending
	}
	rec.Failure = FailureNone
	rec.Attempts = 0
	rec.CreatedAt = time.Time{}
	rec.UpdatedAt = time.Time{}
	rec.CompletedAt = time.Time{}
	return rec
}
