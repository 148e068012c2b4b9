package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultRPCURL        = "http://localhost:8545"
	defaultPassphraseEnv = "BROKER_KEY_PASSPHRASE"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	rpcURL        string
	bearer        string
	keyFiles      []string
	passphraseEnv string
	ttl           time.Duration
	out           io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{out: out}
	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Operate a brokerd settlement engine",
		Long:          "Client for the brokerd JSON-RPC interface: key management, signed calls, queries and exports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("a command is required")
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.rpcURL, "rpc", envOr("BROKER_RPC_URL", defaultRPCURL), "brokerd JSON-RPC endpoint")
	flags.StringVar(&opts.bearer, "token", os.Getenv("BROKER_RPC_TOKEN"), "bearer token for mutating calls")
	flags.StringArrayVarP(&opts.keyFiles, "key", "k", nil, "keystore file of a signer (repeatable)")
	flags.StringVar(&opts.passphraseEnv, "passphrase-env", defaultPassphraseEnv, "environment variable holding keystore passphrases")
	flags.DurationVar(&opts.ttl, "ttl", 2*time.Minute, "validity window of signed requests")

	root.AddCommand(
		newKeysCmd(opts),
		newCallCmd(opts),
		newQueryCmd(opts),
		newOperationsCmd(opts),
		newEventsCmd(opts),
		newBootstrapCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
