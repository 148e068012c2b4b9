package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brokerchain/crypto"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "broker.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != defaultRPCAddress || cfg.DataDir != defaultDataDir {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RPC.RequestsPerMinute != defaultRequestsPerMinute || cfg.RPC.Burst != defaultBurst {
		t.Fatalf("unexpected rpc defaults: %+v", cfg.RPC)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Env != cfg.Env || reloaded.Indexer.DSN != cfg.Indexer.DSN {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	owner := crypto.FormatAddress([20]byte{0x01})
	contents := `RPCAddress = "127.0.0.1:9000"
DataDir = "/var/lib/broker"
Env = "staging"
Owner = "` + owner + `"
CustodyAddress = "0x0202020202020202020202020202020202020202"

[logging]
File = "/var/log/broker.log"
MaxSizeMB = 50
MaxBackups = 3
MaxAgeDays = 14

[rpc]
RequestsPerMinute = 120
Burst = 10
MaxRequestBytes = 4096
JWTSecretEnv = "BROKER_JWT_SECRET"
JWTIssuer = "ops"

[gateway]
BaseURL = "http://gateway.internal"
TimeoutSeconds = 3
RetryCount = 1
Tokens = ["0x1111111111111111111111111111111111111111"]

[indexer]
Enabled = true
Driver = "postgres"
DSN = "postgres://broker@db/broker"

[nats]
URL = "nats://127.0.0.1:4222"
SubjectPrefix = "exchange"

[telemetry]
Endpoint = "otel:4318"
Traces = true
`
	path := filepath.Join(t.TempDir(), "broker.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ownerAddr, ok, err := cfg.OwnerAddress()
	if err != nil || !ok || ownerAddr != ([20]byte{0x01}) {
		t.Fatalf("unexpected owner: %x ok=%v err=%v", ownerAddr, ok, err)
	}
	custody, ok, err := cfg.CustodyAccount()
	if err != nil || !ok || custody[0] != 0x02 {
		t.Fatalf("unexpected custody: %x ok=%v err=%v", custody, ok, err)
	}
	if cfg.Logging.MaxSizeMB != 50 || cfg.Logging.MaxBackups != 3 || cfg.Logging.MaxAgeDays != 14 {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if cfg.RPC.RequestsPerMinute != 120 || cfg.RPC.MaxRequestBytes != 4096 || cfg.RPC.JWTIssuer != "ops" {
		t.Fatalf("unexpected rpc: %+v", cfg.RPC)
	}
	tokens, err := cfg.GatewayTokens()
	if err != nil || len(tokens) != 1 || !tokens[0].IsToken() {
		t.Fatalf("unexpected tokens: %v err=%v", tokens, err)
	}
	if cfg.Indexer.Driver != "postgres" || !cfg.Indexer.Enabled {
		t.Fatalf("unexpected indexer: %+v", cfg.Indexer)
	}
	if cfg.NATS.SubjectPrefix != "exchange" || cfg.NATS.TimeoutSeconds != defaultNATSTimeout {
		t.Fatalf("unexpected nats: %+v", cfg.NATS)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		t.Fatalf("unexpected telemetry: %+v", cfg.Telemetry)
	}
	if cfg.LedgerDir() != filepath.Join("/var/lib/broker", "ledger") {
		t.Fatalf("unexpected ledger dir: %s", cfg.LedgerDir())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"owner", func(c *Config) { c.Owner = "nope" }, "Owner"},
		{"custody", func(c *Config) { c.CustodyAddress = "0x1234" }, "CustodyAddress"},
		{"rate", func(c *Config) { c.RPC.RequestsPerMinute = -1 }, "RequestsPerMinute"},
		{"body", func(c *Config) { c.RPC.MaxRequestBytes = -5 }, "MaxRequestBytes"},
		{"retries", func(c *Config) { c.Gateway.RetryCount = -1 }, "RetryCount"},
		{"native token", func(c *Config) {
			c.Gateway.Tokens = []string{strings.Repeat("ab", 32)}
		}, "not a token id"},
		{"driver", func(c *Config) { c.Indexer.Driver = "mysql" }, "Driver"},
		{"dsn", func(c *Config) {
			c.Indexer.Enabled = true
			c.Indexer.Driver = "postgres"
			c.Indexer.DSN = ""
		}, "DSN"},
		{"webhook secret", func(c *Config) { c.Webhooks.URL = "https://hooks.example" }, "SecretEnv"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
