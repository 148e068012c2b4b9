package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"brokerchain/crypto"
)

// plan is a YAML list of signed calls replayed in order, typically to
// initialize a fresh broker and whitelist its first tokens.
type plan struct {
	Calls []planCall `yaml:"calls"`
}

type planCall struct {
	Operation string        `yaml:"operation"`
	Args      []interface{} `yaml:"args"`
	// Signers lists keystore files for this call. Empty uses the global --key
	// signers.
	Signers []string `yaml:"signers"`
}

func loadPlan(path string) (*plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range p.Calls {
		if strings.TrimSpace(c.Operation) == "" {
			return nil, fmt.Errorf("calls[%d]: operation required", i)
		}
	}
	return &p, nil
}

// encodeArgs renders YAML values as positional JSON arguments.
func (c planCall) encodeArgs() ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(c.Args))
	for i, v := range c.Args {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", c.Operation, i, err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

func newBootstrapCmd(opts *globalOptions) *cobra.Command {
	var file string
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Submit the signed calls listed in a YAML plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			p, err := loadPlan(file)
			if err != nil {
				return err
			}
			defaults, err := loadKeys(opts)
			if err != nil {
				return err
			}
			cache := map[string]*crypto.PrivateKey{}
			for i, path := range opts.keyFiles {
				cache[path] = defaults[i]
			}
			c := newClient(opts)
			failures := 0
			for i, call := range p.Calls {
				params, err := call.encodeArgs()
				if err != nil {
					return err
				}
				keys, err := planSigners(opts, call, defaults, cache)
				if err != nil {
					return err
				}
				if _, err := c.signed(call.Operation, params, opts.ttl, keys); err != nil {
					fmt.Fprintf(opts.out, "[%d] %s: %v\n", i, call.Operation, err)
					failures++
					if !keepGoing {
						return fmt.Errorf("bootstrap stopped at call %d", i)
					}
					continue
				}
				fmt.Fprintf(opts.out, "[%d] %s: ok\n", i, call.Operation)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d calls failed", failures, len(p.Calls))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML plan of calls")
	cmd.Flags().BoolVar(&keepGoing, "continue-on-error", false, "submit remaining calls after a failure")
	return cmd
}

func planSigners(opts *globalOptions, call planCall, defaults []*crypto.PrivateKey, cache map[string]*crypto.PrivateKey) ([]*crypto.PrivateKey, error) {
	if len(call.Signers) == 0 {
		return defaults, nil
	}
	out := make([]*crypto.PrivateKey, 0, len(call.Signers))
	for _, path := range call.Signers {
		if key, ok := cache[path]; ok {
			out = append(out, key)
			continue
		}
		keys, err := loadKeys(&globalOptions{keyFiles: []string{path}, passphraseEnv: opts.passphraseEnv})
		if err != nil {
			return nil, err
		}
		cache[path] = keys[0]
		out = append(out, keys[0])
	}
	return out, nil
}
