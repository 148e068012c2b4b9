package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultRPCAddress        = ":8545"
	defaultDataDir           = "./broker-data"
	defaultEnv               = "local"
	defaultRequestsPerMinute = 600
	defaultBurst             = 60
	defaultMaxRequestBytes   = 1 << 20
	defaultGatewayTimeout    = 10
	defaultGatewayRetries    = 2
	defaultNATSTimeout       = 5
	defaultSubjectPrefix     = "broker.events"
	defaultWebhookAttempts   = 5
)

// Config is the broker daemon configuration.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	Env        string `toml:"Env"`
	// Owner is the fixed administrative identity, bech32 or 0x hex.
	Owner string `toml:"Owner"`
	// CustodyAddress is the account holding pooled token deposits.
	CustodyAddress string `toml:"CustodyAddress"`

	Logging   Logging   `toml:"logging"`
	RPC       RPC       `toml:"rpc"`
	Gateway   Gateway   `toml:"gateway"`
	Indexer   Indexer   `toml:"indexer"`
	NATS      NATS      `toml:"nats"`
	Telemetry Telemetry `toml:"telemetry"`
	Webhooks  Webhooks  `toml:"webhooks"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with defaults. Owner and custody
// addresses are left empty.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = defaultEnv
	}
	if c.RPC.RequestsPerMinute == 0 {
		c.RPC.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = defaultBurst
	}
	if c.RPC.MaxRequestBytes == 0 {
		c.RPC.MaxRequestBytes = defaultMaxRequestBytes
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = defaultGatewayTimeout
	}
	if c.Gateway.RetryCount == 0 {
		c.Gateway.RetryCount = defaultGatewayRetries
	}
	if c.Gateway.Tokens == nil {
		c.Gateway.Tokens = []string{}
	}
	if c.Indexer.Driver == "" {
		c.Indexer.Driver = "sqlite"
	}
	if c.Indexer.Driver == "sqlite" && c.Indexer.DSN == "" {
		c.Indexer.DSN = filepath.Join(c.DataDir, "index.db")
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = defaultSubjectPrefix
	}
	if c.NATS.TimeoutSeconds == 0 {
		c.NATS.TimeoutSeconds = defaultNATSTimeout
	}
	if c.Webhooks.MaxAttempts == 0 {
		c.Webhooks.MaxAttempts = defaultWebhookAttempts
	}
}

// LedgerDir is the LevelDB directory holding the state trie.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.DataDir, "ledger")
}

// JournalDir is the LevelDB directory holding the event journal.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
