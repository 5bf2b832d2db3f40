package swap

import "time"

// EventKind classifies a visible status change.
type EventKind string

const (
	EventSuccess EventKind = "success" // Transfer finished
	EventWaiting EventKind = "waiting" // Transfer is waiting on a platform
	EventFailure EventKind = "failure" // Transfer is parked on a failure or invalid
)

// Event is emitted once per visible status change of a transfer.
type Event struct {
	Kind   EventKind `json:"kind"`
	Status Status    `json:"status"`
	Swap   *Record   `json:"swap"`
	Time   time.Time `json:"time"`
}

// Observer receives swap events. Implementations must not block.
type Observer interface {
	OnSwapEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnSwapEvent implements Observer.
func (f ObserverFunc) OnSwapEvent(e Event) { f(e) }

// EventKindOf classifies a record by its visible status.
func EventKindOf(rec *Record) EventKind {
	switch {
	case rec.Failure != FailureNone, rec.State == StateInvalid:
		return EventFailure
	case rec.State == StateFinished:
		return EventSuccess
	default:
		return EventWaiting
	}
}
