package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-bridge/internal/rpc"
)

// InfoResult is the JSON output of the info command.
type InfoResult struct {
	*rpc.BridgeInfoResult
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	WSClients int `json:"ws_clients"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show daemon version, platforms and swap counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.Client()
			info, err := c.Info(cmd.Context())
			if err != nil {
				return callError("bridge_info", err)
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return callError("bridge_status", err)
			}

			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), &InfoResult{
					BridgeInfoResult: info,
					Pending:          status.Pending,
					Completed:        status.Completed,
					WSClients:        status.WSClients,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Bridge %s\n", info.Version)
			fmt.Fprintf(w, "  %-16s %s\n", "Local platform:", info.LocalPlatform)
			fmt.Fprintf(w, "  %-16s %s\n", "Platforms:", strings.Join(info.Platforms, ", "))
			fmt.Fprintf(w, "  %-16s %s\n", "Tokens:", strings.Join(info.Tokens, ", "))
			fmt.Fprintf(w, "  %-16s %d\n", "Pending:", status.Pending)
			fmt.Fprintf(w, "  %-16s %d\n", "Completed:", status.Completed)
			fmt.Fprintf(w, "  %-16s %s\n", "Uptime:", info.Uptime)
			fmt.Fprintf(w, "  %-16s %s\n", "Data dir:", info.DataDir)
			return nil
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <source-hash>",
		Short: "Show one swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.Client().GetSwap(cmd.Context(), args[0])
			if err != nil {
				return callError("swap "+args[0], err)
			}
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			renderSwap(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List swaps still in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			swaps, err := opts.Client().ListSwaps(cmd.Context(), limit, all)
			if err != nil {
				return callError("swap_list", err)
			}
			return renderSwapList(cmd, opts, swaps)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include finished and invalid swaps")
	cmd.Flags().IntVarP(&limit, "limit", "n", rpc.DefaultListLimit, "maximum number of swaps")

	return cmd
}

// NewAddressCommand creates the address command.
func NewAddressCommand(opts *RootOptions) *cobra.Command {
	var (
		status string
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "address <address>",
		Short: "List swaps touching an address",
		Long: `List the source hashes of every swap that names the address as
sender or receiver. With --full or --status the records are shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.Client()
			if full || status != "" {
				swaps, err := c.SwapsForAddress(cmd.Context(), args[0], status)
				if err != nil {
					return callError("swap_listByAddress", err)
				}
				return renderSwapList(cmd, opts, swaps)
			}

			hashes, err := c.SwapHashesForAddress(cmd.Context(), args[0])
			if err != nil {
				return callError("swap_listByAddress", err)
			}
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), hashes)
			}
			for _, h := range hashes {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only swaps with this status (e.g. failed_receive)")
	cmd.Flags().BoolVar(&full, "full", false, "show full records")

	return cmd
}

// NewCounterpartyCommand creates the counterparty command.
func NewCounterpartyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "counterparty <address>",
		Short: "Name the platform whose external address this is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := opts.Client().FindPlatformByAddress(cmd.Context(), args[0])
			if err != nil {
				return callError("platform_findByAddress", err)
			}
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"platform": name})
			}
			if name == "" {
				return NewExitError(ExitFailure, fmt.Sprintf("%s is not a platform address", args[0]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

// NewPlatformsCommand creates the platforms command.
func NewPlatformsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List registered platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := opts.Client().Platforms(cmd.Context())
			if err != nil {
				return callError("platform_list", err)
			}
			if opts.JSON() {
				return writeJSON(cmd.OutOrStdout(), platforms)
			}
			for _, p := range platforms {
				marker := ""
				if p.Local {
					marker = color.CyanString(" (local)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s%s\n", p.Name, p.ExternalAddress, marker)
			}
			return nil
		},
	}
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "token [symbol]",
		Short: "Look up a ledger token by symbol or hash",
		Long:  "Without a symbol or --hash every registered token is listed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.Client()
			w := cmd.OutOrStdout()

			if len(args) == 0 && hash == "" {
				tokens, err := c.Tokens(cmd.Context())
				if err != nil {
					return callError("token_list", err)
				}
				if opts.JSON() {
					return writeJSON(w, tokens)
				}
				for _, t := range tokens {
					renderToken(w, t)
				}
				return nil
			}

			symbol := ""
			if len(args) == 1 {
				symbol = args[0]
			}
			if symbol != "" && hash != "" {
				return NewExitError(ExitCommandError, "give either a symbol or --hash, not both")
			}

			token, err := c.FindToken(cmd.Context(), symbol, hash)
			if err != nil {
				return callError("token", err)
			}
			if opts.JSON() {
				return writeJSON(w, token)
			}
			renderToken(w, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&hash, "hash", "", "token hash (hex, optional 0x prefix)")

	return cmd
}

func renderSwapList(cmd *cobra.Command, opts *RootOptions, swaps []rpc.SwapInfo) error {
	if opts.JSON() {
		return writeJSON(cmd.OutOrStdout(), swaps)
	}
	if len(swaps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No swaps")
		return nil
	}
	for i := range swaps {
		renderSwapLine(cmd.OutOrStdout(), &swaps[i])
	}
	return nil
}
