package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddress        = ":8645"
	DefaultDataDir              = "./carbonlink-data"
	DefaultBlockIntervalSeconds = 600
	DefaultJWTSecretEnv         = "CARBONLINK_JWT_SECRET"
)

type Config struct {
	ListenAddress        string       `toml:"ListenAddress"`
	DataDir              string       `toml:"DataDir"`
	Environment          string       `toml:"Environment"`
	BlockIntervalSeconds uint64       `toml:"BlockIntervalSeconds"`
	Authority            string       `toml:"Authority"`
	Vault                string       `toml:"Vault"`
	DisputeReserve       string       `toml:"DisputeReserve"`
	Storage              Storage      `toml:"storage"`
	Journal              Journal      `toml:"journal"`
	Registry             Registry     `toml:"registry"`
	Auth                 Auth         `toml:"auth"`
	RateLimit            RateLimit    `toml:"rate_limit"`
	Quota                Quota        `toml:"quota"`
	Logging              Logging      `toml:"logging"`
	Telemetry            Telemetry    `toml:"telemetry"`
	Genesis              []Allocation `toml:"genesis"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.BlockIntervalSeconds == 0 {
		cfg.BlockIntervalSeconds = DefaultBlockIntervalSeconds
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Journal.Driver) == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Auth.JWTSecretEnv) == "" {
		cfg.Auth.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 3600
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []Allocation{}
	}
}

// JournalDSN returns the configured DSN or the SQLite file under DataDir.
func (c *Config) JournalDSN() string {
	if dsn := strings.TrimSpace(c.Journal.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		Environment:   "local",
		Registry:      Registry{Fixture: "registry.yaml"},
		Logging:       Logging{Level: "info"},
		Telemetry:     Telemetry{Endpoint: "localhost:4318", Insecure: true},
	}
	applyDefaults(cfg)

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
