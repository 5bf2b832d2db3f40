package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-bridge/internal/rpc"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

// WaitOptions holds flags for the wait command.
type WaitOptions struct {
	*RootOptions
	Interval time.Duration
	Timeout  time.Duration
	FailFast bool
}

// NewWaitCommand creates the wait command.
func NewWaitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WaitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "wait <source-hash>",
		Short: "Block until a swap finishes",
		Long: `Poll a swap until it reaches finished or invalid. Failed attempts are
retried by the daemon, so wait keeps going unless --fail-fast is set.
A swap the daemon hasn't seen yet is waited for too.

Exit codes: 0 finished, 1 invalid or failed, 2 timeout or daemon error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWait(cmd, opts, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 2*time.Second, "polling interval")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first failed attempt")

	return cmd
}

func runWait(cmd *cobra.Command, opts *WaitOptions, hash string) error {
	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var s *spinner.Spinner
	if !opts.JSON() {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = fmt.Sprintf(" Waiting for swap %s...", hash)
		s.Start()
		defer s.Stop()
	}

	c := opts.Client()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := c.GetSwap(ctx, hash)
		switch {
		case err == nil:
			if s != nil {
				s.Suffix = fmt.Sprintf(" Swap %s is %s...", hash, info.Status)
			}
			if done, result := waitOutcome(info, opts.FailFast); done {
				if s != nil {
					s.Stop()
				}
				if err := printWaitResult(cmd, opts.RootOptions, info); err != nil {
					return err
				}
				return result
			}
		case rpc.IsNotFound(err):
			// Not polled yet.
		case ctx.Err() != nil:
		default:
			return callError("swap "+hash, err)
		}

		select {
		case <-ctx.Done():
			return WrapExitError(ExitCommandError, "gave up waiting for swap "+hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// waitOutcome decides whether waiting is over and with which error.
func waitOutcome(info *rpc.SwapInfo, failFast bool) (bool, error) {
	switch {
	case info.Status == string(swap.StatusFinished):
		return true, nil
	case info.Status == string(swap.StatusInvalid):
		return true, NewExitError(ExitFailure, fmt.Sprintf("swap %s is invalid", info.SourceHash))
	case failFast && strings.HasPrefix(info.Status, "failed_"):
		return true, NewExitError(ExitFailure, fmt.Sprintf("swap %s %s", info.SourceHash, info.Status))
	default:
		return false, nil
	}
}

func printWaitResult(cmd *cobra.Command, opts *RootOptions, info *rpc.SwapInfo) error {
	if opts.JSON() {
		return writeJSON(cmd.OutOrStdout(), info)
	}
	renderSwap(cmd.OutOrStdout(), info)
	return nil
}
