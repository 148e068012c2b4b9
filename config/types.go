package config

// Logging controls the optional rotating log file written next to stdout.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// RPC captures the JSON-RPC listener limits.
type RPC struct {
	RequestsPerMinute int   `toml:"RequestsPerMinute"`
	Burst             int   `toml:"Burst"`
	MaxRequestBytes   int64 `toml:"MaxRequestBytes"`
	// JWTSecretEnv names the environment variable holding the HS256 secret
	// used to authenticate mutating calls. Empty disables bearer checks.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
}

// Gateway points the custody engine at the token transfer service.
type Gateway struct {
	BaseURL        string   `toml:"BaseURL"`
	TimeoutSeconds int      `toml:"TimeoutSeconds"`
	RetryCount     int      `toml:"RetryCount"`
	APITokenEnv    string   `toml:"APITokenEnv"`
	Tokens         []string `toml:"Tokens"`
}

// Indexer configures the SQL mirror of published events.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver    string `toml:"Driver"`
	DSN       string `toml:"DSN"`
	ExportDir string `toml:"ExportDir"`
}

// NATS configures the optional event bus publisher.
type NATS struct {
	URL            string `toml:"URL"`
	SubjectPrefix  string `toml:"SubjectPrefix"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Webhooks configures signed HTTP delivery of selected events.
type Webhooks struct {
	URL       string `toml:"URL"`
	SecretEnv string `toml:"SecretEnv"`
	// TypePrefixes limits deliveries to matching event types. Empty sends all.
	TypePrefixes []string `toml:"TypePrefixes"`
	MaxAttempts  int      `toml:"MaxAttempts"`
}
