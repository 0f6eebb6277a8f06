package config

// Storage selects the key/value backend holding linkage state and balances.
type Storage struct {
	Backend string `toml:"Backend"`
}

// Journal configures the relational event journal. An empty DSN stores the
// journal in a SQLite file under DataDir.
type Journal struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Registry points the node at its flight/project/verifier oracle. Exactly one
// of Fixture (static YAML) or URL (remote JSON-RPC) must be set.
type Registry struct {
	Fixture  string `toml:"Fixture"`
	URL      string `toml:"URL"`
	TokenEnv string `toml:"TokenEnv"`
}

// Auth configures caller identity on the RPC surface.
type Auth struct {
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
}

// RateLimit bounds request throughput per caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Quota defines per-caller limits on linkage creation.
type Quota struct {
	MaxRequestsPerMin uint32 `toml:"MaxRequestsPerMin"`
	MaxEscrowPerEpoch uint64 `toml:"MaxEscrowPerEpoch"`
	EpochSeconds      uint32 `toml:"EpochSeconds"`
}

// Logging configures the structured log sink.
type Logging struct {
	Level string `toml:"Level"`
	File  string `toml:"File"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	// ResourceAttributes uses the same key=value,... form as Headers.
	ResourceAttributes    string `toml:"ResourceAttributes"`
	MetricIntervalSeconds uint32 `toml:"MetricIntervalSeconds"`
	Traces                bool   `toml:"Traces"`
	Metrics               bool   `toml:"Metrics"`
}

// Allocation credits an account at first start.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}
