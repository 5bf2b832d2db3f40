package swap

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/klingon-bridge/internal/storage"
)

// Swap engine errors
var (
	ErrSwapNotFound        = storage.ErrSwapNotFound
	ErrUnknownPlatform     = errors.New("unknown platform")
	ErrDuplicatePlatform   = errors.New("duplicate platform")
	ErrMissingLocal        = errors.New("local platform adapter not registered")
	ErrMissingSourceHash   = errors.New("swap source hash is empty")
	ErrMissingDestination  = errors.New("swap destination address can't be empty")
	ErrUnknownState        = errors.New("unknown swap state")
	ErrInvalidAmount       = storage.ErrInvalidAmount
	ErrTransitionLimit     = errors.New("swap transition limit exceeded")
	ErrBrokerFailed        = errors.New("broker transaction failed")
	ErrReceiveFailed       = errors.New("destination transaction failed")
	ErrInvalidDriverConfig = errors.New("invalid driver config")
)

// TransferError is an adapter-call failure for one transfer. The driver
// parks the transfer under Reason and retries it on a later cycle.
type TransferError struct {
	Reason     FailureReason
	SourceHash string
	Err        error
}

// Error implements error.
func (e *TransferError) Error() string {
	if e.SourceHash == "" {
		return fmt.Sprintf("swap failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("swap %s failure (%s): %v", e.SourceHash, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// newTransferError builds a TransferError bound to a record.
func newTransferError(reason FailureReason, rec *Record, err error) *TransferError {
	return &TransferError{Reason: reason, SourceHash: rec.SourceHash, Err: err}
}

// FailureReasonOf extracts the reason from a TransferError anywhere in err's
// chain. It returns FailureNone when err is not a transfer failure.
func FailureReasonOf(err error) FailureReason {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Reason
	}
	return FailureNone
}
