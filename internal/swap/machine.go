package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/pkg/logging"
)

// Machine defaults
const (
	DefaultSettleGrace    = 30 * time.Second
	DefaultMaxTransitions = 16
)

// Transition is the outcome of one state machine step. When Next equals
// the current state the record is waiting and the step is retried later.
type Transition struct {
	Next            State
	BrokerID        string
	DestinationHash string
	SettleHash      string
	NextAttemptAt   time.Time
}

// apply writes the transition onto rec.
func (t Transition) apply(rec *Record) {
	rec.State = t.Next
	if t.BrokerID != "" {
		rec.BrokerID = t.BrokerID
	}
	if t.DestinationHash != "" {
		rec.DestinationHash = t.DestinationHash
	}
	if t.SettleHash != "" {
		rec.SettleHash = t.SettleHash
	}
	if !t.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = t.NextAttemptAt
	}
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Registry       *Registry
	Ledger         ledger.Ledger
	Clock          Clock
	SettleGrace    time.Duration
	MaxTransitions int
}

// Machine advances transfers through their lifecycle. It holds no
// per-transfer state; everything it needs is on the Record.
type Machine struct {
	registry *Registry
	ledger   ledger.Ledger
	clock    Clock
	grace    time.Duration
	limit    int
	log      *logging.Logger
}

// NewMachine creates a state machine. A negative SettleGrace is treated as zero.
func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		clock:    cfg.Clock,
		grace:    cfg.SettleGrace,
		limit:    cfg.MaxTransitions,
		log:      logging.GetDefault().Component("swap-machine"),
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	if m.grace < 0 {
		m.grace = 0
	}
	if m.limit <= 0 {
		m.limit = DefaultMaxTransitions
	}
	return m
}

// Step computes the next transition for rec without modifying it.
// Adapter failures are returned as *TransferError; any other error is
// a defect in the record or the machine.
func (m *Machine) Step(ctx context.Context, rec *Record) (Transition, error) {
	if rec.State.IsTerminal() {
		return Transition{Next: rec.State}, nil
	}

	source, err := m.registry.Find(rec.SourcePlatform)
	if err != nil {
		return Transition{}, withSource(err, rec)
	}
	destination, err := m.registry.Find(rec.DestinationPlatform)
	if err != nil {
		return Transition{}, withSource(err, rec)
	}

	switch rec.State {
	case StatePending:
		return m.stepPending(rec), nil
	case StateBroker:
		return m.stepBroker(ctx, rec, source)
	case StateSending:
		return m.stepSending(ctx, rec, destination)
	case StateSettle:
		return m.stepSettle(ctx, rec, source, destination), nil
	default:
		return Transition{}, fmt.Errorf("%w: %q for swap %s", ErrUnknownState, rec.State, rec.SourceHash)
	}
}

// Advance applies transitions to rec until it reaches a terminal state,
// stops making progress or fails. Transitions are applied even when a
// later step fails.
func (m *Machine) Advance(ctx context.Context, rec *Record) error {
	for i := 0; i < m.limit; i++ {
		if rec.State.IsTerminal() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		before := rec.State
		t, err := m.Step(ctx, rec)
		if err != nil {
			return err
		}
		t.apply(rec)

		if rec.State.IsTerminal() || rec.State == before {
			return nil
		}
		m.log.Debug("Swap transition", "swap", rec.SourceHash, "from", before, "to", rec.State)
	}
	return fmt.Errorf("%w: swap %s after %d steps", ErrTransitionLimit, rec.SourceHash, m.limit)
}

func (m *Machine) stepPending(rec *Record) Transition {
	if !m.ledger.TokenExists(rec.Symbol) {
		m.log.Warn("Swap references unknown token", "swap", rec.SourceHash, "symbol", rec.Symbol)
		return Transition{Next: StateInvalid}
	}
	if m.registry.IsLocal(rec.SourcePlatform) {
		return Transition{Next: StateBroker}
	}
	return Transition{Next: StateSending}
}

func (m *Machine) stepBroker(ctx context.Context, rec *Record, source Adapter) (Transition, error) {
	result, brokerID, err := source.PrepareBroker(ctx, rec)
	if err != nil {
		return Transition{}, newTransferError(FailureBroker, rec, fmt.Errorf("%w: %v", ErrBrokerFailed, err))
	}

	switch result {
	case BrokerSkip:
		return Transition{Next: StateBroker}, nil
	case BrokerReady:
		if brokerID == "" {
			return Transition{}, newTransferError(FailureBroker, rec, fmt.Errorf("%w: empty broker id", ErrBrokerFailed))
		}
		return Transition{Next: StateSending, BrokerID: brokerID}, nil
	default:
		return Transition{}, newTransferError(FailureBroker, rec, fmt.Errorf("%w: result %s", ErrBrokerFailed, result))
	}
}

func (m *Machine) stepSending(ctx context.Context, rec *Record, destination Adapter) (Transition, error) {
	hash, err := destination.ReceiveFunds(ctx, rec)
	if err != nil {
		return Transition{}, newTransferError(FailureReceive, rec, fmt.Errorf("%w: %v", ErrReceiveFailed, err))
	}
	if hash == "" {
		return Transition{}, newTransferError(FailureReceive, rec, fmt.Errorf("%w: empty destination hash", ErrReceiveFailed))
	}

	if m.registry.IsLocal(rec.SourcePlatform) {
		return Transition{
			Next:            StateSettle,
			DestinationHash: hash,
			NextAttemptAt:   m.clock.Now().Add(m.grace),
		}, nil
	}
	return Transition{Next: StateFinished, DestinationHash: hash}, nil
}

// stepSettle never fails the transfer: an unsettled or erroring call keeps
// it in settle with a later attempt time.
func (m *Machine) stepSettle(ctx context.Context, rec *Record, source, destination Adapter) Transition {
	now := m.clock.Now()
	if now.Before(rec.NextAttemptAt) {
		return Transition{Next: StateSettle}
	}

	var (
		settleHash string
		err        error
	)
	if m.registry.IsLocal(rec.DestinationPlatform) {
		settleHash, err = destination.Settle(ctx, rec.SourceHash, rec.SourcePlatform)
	} else {
		settleHash, err = source.Settle(ctx, rec.DestinationHash, rec.DestinationPlatform)
	}
	if err != nil {
		m.log.Warn("Settle call failed", "swap", rec.SourceHash, "error", err)
	}
	if err != nil || settleHash == "" {
		return Transition{Next: StateSettle, NextAttemptAt: now.Add(m.grace)}
	}

	return Transition{Next: StateFinished, SettleHash: settleHash}
}

// withSource binds a registry lookup failure to a record.
func withSource(err error, rec *Record) error {
	if te, ok := err.(*TransferError); ok && te.SourceHash == "" {
		te.SourceHash = rec.SourceHash
	}
	return err
}
