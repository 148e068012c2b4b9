package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"brokerchain/cmd/internal/passphrase"
	"brokerchain/crypto"
)

func newKeysCmd(opts *globalOptions) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage signer keystores",
	}

	var out string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create a new secp256k1 key in an encrypted keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			pass, err := passphrase.NewSource(opts.passphraseEnv, out).Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			addr, err := crypto.SaveToKeystore(out, key, pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, addr.String())
			return nil
		},
	}
	generate.Flags().StringVarP(&out, "out", "o", "", "keystore file to write")

	address := &cobra.Command{
		Use:   "address <keystore>",
		Short: "Print the broker address of a keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.KeystoreAddress(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "%s\n0x%x\n", addr.String(), addr.Bytes())
			return nil
		},
	}

	keys.AddCommand(generate, address)
	return keys
}

// loadKeys decrypts every --key file. All keystores share one passphrase
// source.
func loadKeys(opts *globalOptions) ([]*crypto.PrivateKey, error) {
	if len(opts.keyFiles) == 0 {
		return nil, nil
	}
	src := passphrase.NewSource(opts.passphraseEnv, "signer")
	pass, err := src.Get()
	if err != nil {
		return nil, err
	}
	out := make([]*crypto.PrivateKey, 0, len(opts.keyFiles))
	for _, path := range opts.keyFiles {
		key, err := crypto.LoadFromKeystore(path, pass)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		out = append(out, key)
	}
	return out, nil
}
