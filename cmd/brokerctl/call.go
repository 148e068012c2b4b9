package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newCallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <operation> [args...]",
		Short: "Sign and submit a mutating operation",
		Long:  "Arguments are positional. Words that parse as JSON are sent as-is, anything else as a string.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			keys, err := loadKeys(opts)
			if err != nil {
				return err
			}
			result, err := newClient(opts).signed(args[0], params, opts.ttl, keys)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <operation> [args...]",
		Short: "Run a read-only operation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			result, err := newClient(opts).query(args[0], params)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
}

func newOperationsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the operations served by brokerd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient(opts).query("broker_operations", nil)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
}

func newEventsCmd(opts *globalOptions) *cobra.Command {
	var from uint64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page through the event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseArgs([]string{fmt.Sprint(from), fmt.Sprint(limit)})
			if err != nil {
				return err
			}
			result, err := newClient(opts).query("broker_events", params)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 1, "first sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	return cmd
}

func printJSON(out io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(out, "null")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
