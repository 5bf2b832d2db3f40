// Package cli implements bridgectl, the operator CLI for the bridge daemon.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/klingon-exchange/klingon-bridge/internal/rpc"
)

// DefaultRPCURL is the daemon's default API address.
const DefaultRPCURL = "http://127.0.0.1:7080"

// EnvPrefix prefixes environment overrides, e.g. BRIDGE_RPC_URL.
const EnvPrefix = "BRIDGE"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	RPCURL  string
	Timeout time.Duration
	Format  string // "json" | "text"
	NoColor bool

	configFile string
	v          *viper.Viper
}

// Client returns a client for the configured daemon.
func (o *RootOptions) Client() *rpc.Client {
	return rpc.NewClient(o.RPCURL, o.Timeout)
}

// JSON reports whether output should be machine readable.
func (o *RootOptions) JSON() bool {
	return o.Format == "json"
}

// NewRootCommand creates the root command for bridgectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "Inspect a running bridge daemon",
		Long: `bridgectl queries the bridge daemon's JSON-RPC API.

Settings resolve from flags, then BRIDGE_* environment variables, then
~/.bridgectl.yaml.

Examples:
  bridgectl info
  bridgectl get 0x9f2c...
  bridgectl address P2KAlice --status failed_receive
  bridgectl wait 0x9f2c... --timeout 5m`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve()
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: $HOME/.bridgectl.yaml)")
	flags.String("rpc-url", DefaultRPCURL, "daemon JSON-RPC URL")
	flags.Duration("timeout", rpc.DefaultClientTimeout, "per-request timeout")
	flags.String("format", "text", "output format (json|text)")
	flags.Bool("no-color", false, "disable colored output")

	opts.v.BindPFlag("rpc_url", flags.Lookup("rpc-url"))
	opts.v.BindPFlag("timeout", flags.Lookup("timeout"))
	opts.v.BindPFlag("format", flags.Lookup("format"))
	opts.v.BindPFlag("no_color", flags.Lookup("no-color"))

	// Add subcommands
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewCounterpartyCommand(opts))
	cmd.AddCommand(NewPlatformsCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewWaitCommand(opts))

	return cmd
}

// resolve merges flags, environment and the optional config file.
func (o *RootOptions) resolve() error {
	o.v.SetEnvPrefix(EnvPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, "failed to read config", err)
		}
	} else {
		o.v.SetConfigName(".bridgectl")
		o.v.SetConfigType("yaml")
		o.v.AddConfigPath("$HOME")
		// Optional
		_ = o.v.ReadInConfig()
	}

	o.RPCURL = o.v.GetString("rpc_url")
	o.Timeout = o.v.GetDuration("timeout")
	o.Format = o.v.GetString("format")
	o.NoColor = o.v.GetBool("no_color")

	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	if o.RPCURL == "" {
		return NewExitError(ExitCommandError, "rpc url is required")
	}
	if o.NoColor {
		color.NoColor = true
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
