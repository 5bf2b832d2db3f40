package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/rpc"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The swap failed or was not found
	ExitCommandError = 2 // Bad flags, unreachable daemon
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// callError classifies a client error: missing things exit 1, everything
// else is a command error.
func callError(what string, err error) error {
	if rpc.IsNotFound(err) {
		return WrapExitError(ExitFailure, what+" not found", err)
	}
	return WrapExitError(ExitCommandError, what, err)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// colorStatus paints a status: green when finished, red for failures and
// invalid transfers, yellow while in flight.
func colorStatus(status string) string {
	name := strings.TrimSpace(status)
	switch {
	case name == string(swap.StatusFinished):
		return color.GreenString("%s", status)
	case name == string(swap.StatusInvalid), strings.HasPrefix(name, "failed_"):
		return color.RedString("%s", status)
	default:
		return color.YellowString("%s", status)
	}
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// renderSwap writes the detailed view of one swap.
func renderSwap(w io.Writer, s *rpc.SwapInfo) {
	fmt.Fprintf(w, "Swap %s\n", color.CyanString("%s", s.SourceHash))
	fmt.Fprintf(w, "  %-13s %s\n", "Status:", colorStatus(s.Status))
	fmt.Fprintf(w, "  %-13s %s => %s\n", "Route:", s.SourcePlatform, s.DestinationPlatform)
	fmt.Fprintf(w, "  %-13s %s\n", "From:", s.SourceAddress)
	fmt.Fprintf(w, "  %-13s %s\n", "To:", s.DestinationAddress)
	fmt.Fprintf(w, "  %-13s %s %s\n", "Amount:", s.Amount, s.Symbol)
	if s.Attempts > 0 {
		fmt.Fprintf(w, "  %-13s %d\n", "Attempts:", s.Attempts)
	}
	if s.BrokerID != "" {
		fmt.Fprintf(w, "  %-13s %s\n", "Broker:", s.BrokerID)
	}
	if s.DestinationHash != "" {
		fmt.Fprintf(w, "  %-13s %s\n", "Payout:", s.DestinationHash)
	}
	if s.SettleHash != "" {
		fmt.Fprintf(w, "  %-13s %s\n", "Settlement:", s.SettleHash)
	}
	if s.NextAttemptAt != nil {
		fmt.Fprintf(w, "  %-13s %s\n", "Next attempt:", formatUnix(*s.NextAttemptAt))
	}
	if s.CreatedAt != 0 {
		fmt.Fprintf(w, "  %-13s %s\n", "Created:", formatUnix(s.CreatedAt))
	}
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "  %-13s %s\n", "Completed:", formatUnix(*s.CompletedAt))
	}
	if s.Summary != "" {
		fmt.Fprintf(w, "  %-13s %s\n", "Summary:", s.Summary)
	}
}

// renderSwapLine writes the one-line view used by lists.
func renderSwapLine(w io.Writer, s *rpc.SwapInfo) {
	fmt.Fprintf(w, "%s %s\n", colorStatus(fmt.Sprintf("%-16s", s.Status)), s.Summary)
}

func renderToken(w io.Writer, t *ledger.Token) {
	fmt.Fprintf(w, "%-8s %-24s decimals=%-3d hash=%s\n", t.Symbol, t.Name, t.Decimals, t.Hash)
}
