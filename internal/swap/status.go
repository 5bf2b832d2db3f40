package swap

import (
	"fmt"

	"github.com/klingon-exchange/klingon-bridge/internal/storage"
)

// State is the lifecycle position of a transfer.
type State string

const (
	StatePending  State = "pending"  // Observed, not yet routed
	StateBroker   State = "broker"   // Waiting for source-side escrow (local origin only)
	StateSending  State = "sending"  // Waiting for destination payout
	StateSettle   State = "settle"   // Waiting for settlement on the non-payout side
	StateFinished State = storage.StateFinished
	StateInvalid  State = storage.StateInvalid
)

// IsTerminal returns true for states a transfer never leaves.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateInvalid
}

// Valid returns true if s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateBroker, StateSending, StateSettle, StateFinished, StateInvalid:
		return true
	}
	return false
}

// FailureReason is the code a transfer is parked under after an adapter
// action failed. The transfer keeps its State and the step is retried.
type FailureReason string

const (
	FailureNone     FailureReason = ""
	FailurePlatform FailureReason = "platform" // Adapter for one side is not registered
	FailureBroker   FailureReason = "broker"   // Broker preparation failed
	FailureReceive  FailureReason = "receive"  // Destination payout failed
)

// Valid returns true if r is a known failure reason (including none).
func (r FailureReason) Valid() bool {
	switch r {
	case FailureNone, FailurePlatform, FailureBroker, FailureReceive:
		return true
	}
	return false
}

// Status is the externally visible status of a transfer: its lifecycle
// state, or the failure it is parked under.
type Status string

const (
	StatusPending  = Status(StatePending)
	StatusBroker   = Status(StateBroker)
	StatusSending  = Status(StateSending)
	StatusSettle   = Status(StateSettle)
	StatusFinished = Status(StateFinished)
	StatusInvalid  = Status(StateInvalid)

	StatusFailedPlatform Status = "failed_platform"
	StatusFailedBroker   Status = "failed_broker"
	StatusFailedReceive  Status = "failed_receive"
)

// StatusOf joins a state and a failure reason into a Status.
func StatusOf(state State, failure FailureReason) Status {
	if failure != FailureNone {
		return Status("failed_" + string(failure))
	}
	return Status(state)
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusBroker, StatusSending, StatusSettle, StatusFinished, StatusInvalid,
		StatusFailedPlatform, StatusFailedBroker, StatusFailedReceive:
		return st, nil
	}
	return "", fmt.Errorf("unknown swap status %q", s)
}

// BrokerResult is the outcome of a broker preparation.
type BrokerResult int

const (
	BrokerReady BrokerResult = iota // Funds locked, proceed to sending
	BrokerSkip                      // Not ready yet, retry later
	BrokerError                     // Preparation failed
)

// String implements fmt.Stringer.
func (r BrokerResult) String() string {
	switch r {
	case BrokerReady:
		return "ready"
	case BrokerSkip:
		return "skip"
	case BrokerError:
		return "error"
	}
	return fmt.Sprintf("BrokerResult(%d)", int(r))
}
