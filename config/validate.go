package config

import (
	"fmt"
	"math/big"
	"strings"

	"carbonlink/core/types"
	"carbonlink/storage"
)

// Validate checks the settings the daemon cannot start without.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	authority, err := types.ParseAddress(c.Authority)
	if err != nil {
		return fmt.Errorf("config: Authority: %w", err)
	}
	vault, err := types.ParseAddress(c.Vault)
	if err != nil {
		return fmt.Errorf("config: Vault: %w", err)
	}
	if vault == ([20]byte{}) {
		return fmt.Errorf("config: Vault must not be the zero address")
	}
	if authority == vault {
		return fmt.Errorf("config: Authority and Vault must differ")
	}
	if strings.TrimSpace(c.DisputeReserve) != "" {
		reserve, err := types.ParseAddress(c.DisputeReserve)
		if err != nil {
			return fmt.Errorf("config: DisputeReserve: %w", err)
		}
		if reserve == vault {
			return fmt.Errorf("config: DisputeReserve must differ from Vault")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: storage: unknown backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(c.Journal.Driver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: journal: unknown driver %q", c.Journal.Driver)
	}
	fixture, url := strings.TrimSpace(c.Registry.Fixture), strings.TrimSpace(c.Registry.URL)
	if (fixture == "") == (url == "") {
		return fmt.Errorf("config: registry: exactly one of Fixture or URL must be set")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit: values must not be negative")
	}
	for i, alloc := range c.Genesis {
		if _, err := types.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		if _, err := alloc.Value(); err != nil {
			return fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
	}
	return nil
}

// Value parses the allocation amount as a non-negative base-10 integer.
func (a Allocation) Value() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(a.Amount), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", a.Amount)
	}
	return amount, nil
}
