package config

import (
	"fmt"
	"strings"

	"brokerchain/crypto"
	"brokerchain/native/ledger"
)

// Validate rejects malformed addresses and non-positive limits.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) != "" {
		if _, err := crypto.ParseAddress(c.Owner); err != nil {
			return fmt.Errorf("config: Owner: %w", err)
		}
	}
	if strings.TrimSpace(c.CustodyAddress) != "" {
		if _, err := crypto.ParseAddress(c.CustodyAddress); err != nil {
			return fmt.Errorf("config: CustodyAddress: %w", err)
		}
	}
	if c.RPC.RequestsPerMinute <= 0 {
		return fmt.Errorf("config: rpc.RequestsPerMinute must be positive")
	}
	if c.RPC.Burst <= 0 {
		return fmt.Errorf("config: rpc.Burst must be positive")
	}
	if c.RPC.MaxRequestBytes <= 0 {
		return fmt.Errorf("config: rpc.MaxRequestBytes must be positive")
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: gateway.TimeoutSeconds must be positive")
	}
	if c.Gateway.RetryCount < 0 {
		return fmt.Errorf("config: gateway.RetryCount must not be negative")
	}
	if _, err := c.GatewayTokens(); err != nil {
		return err
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("config: logging limits must not be negative")
	}
	switch c.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: indexer.Driver %q not supported", c.Indexer.Driver)
	}
	if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.DSN) == "" {
		return fmt.Errorf("config: indexer.DSN required when the indexer is enabled")
	}
	if c.NATS.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: nats.TimeoutSeconds must be positive")
	}
	if strings.TrimSpace(c.Webhooks.URL) != "" && strings.TrimSpace(c.Webhooks.SecretEnv) == "" {
		return fmt.Errorf("config: webhooks.SecretEnv required when webhooks.URL is set")
	}
	if c.Webhooks.MaxAttempts < 0 {
		return fmt.Errorf("config: webhooks.MaxAttempts must not be negative")
	}
	return nil
}

// OwnerAddress returns the parsed owner identity. ok is false when unset.
func (c *Config) OwnerAddress() (addr [20]byte, ok bool, err error) {
	return optionalAddress(c.Owner)
}

// CustodyAccount returns the parsed custody address. ok is false when unset.
func (c *Config) CustodyAccount() (addr [20]byte, ok bool, err error) {
	return optionalAddress(c.CustodyAddress)
}

func optionalAddress(raw string) ([20]byte, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, false, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, false, err
	}
	return addr, true, nil
}

// GatewayTokens parses the token ids served by the configured gateway.
func (c *Config) GatewayTokens() ([]ledger.AssetID, error) {
	out := make([]ledger.AssetID, 0, len(c.Gateway.Tokens))
	for i, raw := range c.Gateway.Tokens {
		asset, err := ledger.ParseAssetHex(raw)
		if err != nil {
			return nil, fmt.Errorf("config: gateway.Tokens[%d]: %w", i, err)
		}
		if !asset.IsToken() {
			return nil, fmt.Errorf("config: gateway.Tokens[%d]: not a token id", i)
		}
		out = append(out, asset)
	}
	return out, nil
}
