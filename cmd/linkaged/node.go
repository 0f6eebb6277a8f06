package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"carbonlink/config"
	"carbonlink/core/events"
	"carbonlink/core/state"
	"carbonlink/core/types"
	"carbonlink/native/bank"
	"carbonlink/native/common"
	"carbonlink/native/linkage"
	"carbonlink/native/registry"
	"carbonlink/native/system/quotas"
	"carbonlink/rpc"
	"carbonlink/storage"
	"carbonlink/storage/journal"
)

var genesisMarkerKey = []byte("carbonlink/genesis/applied")

// node holds the long-lived components assembled from the configuration.
type node struct {
	db      storage.Database
	journal *journal.Journal
	bank    *bank.Bank
	engine  *linkage.Engine
	server  *rpc.Server
}

func buildNode(cfg *config.Config, logger *slog.Logger) (n *node, err error) {
	authority, err := types.ParseAddress(cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("authority: %w", err)
	}
	vault, err := types.ParseAddress(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	n = &node{db: db}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	j, err := journal.Open(cfg.Journal.Driver, cfg.JournalDSN())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j.SetLogger(logger)
	n.journal = j

	manager := state.NewManager(db)
	n.bank = bank.New(manager)
	n.bank.SetEmitter(j)
	if err := applyGenesis(manager, n.bank, cfg.Genesis, logger); err != nil {
		return nil, err
	}

	store := manager.LinkageStore()
	current, err := store.InitAuthority(authority)
	if err != nil {
		return nil, fmt.Errorf("init authority: %w", err)
	}
	if current != authority {
		logger.Warn("stored authority differs from configuration",
			slog.String("stored", types.FormatAddress(current)),
			slog.String("configured", types.FormatAddress(authority)))
	}

	oracle, err := openRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(cfg.BlockIntervalSeconds) * time.Second
	engine := linkage.NewEngine()
	engine.SetState(store)
	engine.SetAdapters(linkage.Adapters{
		Ledger:      n.bank,
		Flights:     oracle,
		Projects:    oracle,
		Credentials: oracle,
		Verifiers:   oracle,
	})
	engine.SetVault(vault)
	if strings.TrimSpace(cfg.DisputeReserve) != "" {
		reserve, err := types.ParseAddress(cfg.DisputeReserve)
		if err != nil {
			return nil, fmt.Errorf("dispute reserve: %w", err)
		}
		engine.SetDisputeReserve(reserve)
	}
	engine.SetHeightFunc(func() uint64 { return linkage.HeightAt(time.Now(), interval) })
	engine.SetEmitter(events.Fanout{j})
	engine.SetLogger(logger)
	n.engine = engine

	secret := strings.TrimSpace(os.Getenv(cfg.Auth.JWTSecretEnv))
	if secret == "" {
		logger.Warn("JWT secret not set; authenticated methods will be rejected", slog.String("env", cfg.Auth.JWTSecretEnv))
	}
	server := rpc.NewServer(engine, rpc.ServerConfig{
		JWTSecret:         []byte(secret),
		JWTIssuer:         cfg.Auth.Issuer,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Quota: common.Quota{
			MaxRequestsPerMin: cfg.Quota.MaxRequestsPerMin,
			MaxEscrowPerEpoch: cfg.Quota.MaxEscrowPerEpoch,
			EpochSeconds:      cfg.Quota.EpochSeconds,
		},
		QuotaStore: quotas.NewStore("linkage", manager),
	})
	server.SetBank(n.bank)
	server.SetJournal(j)
	server.SetLogger(logger)
	n.server = server
	return n, nil
}

type oracle interface {
	linkage.FlightRegistry
	linkage.ProjectRegistry
	linkage.CredentialIssuer
	linkage.VerifierRoster
}

func openRegistry(cfg config.Registry) (oracle, error) {
	if path := strings.TrimSpace(cfg.Fixture); path != "" {
		static, err := registry.LoadStatic(path)
		if err != nil {
			return nil, fmt.Errorf("load registry fixture: %w", err)
		}
		return static, nil
	}
	token := ""
	if env := strings.TrimSpace(cfg.TokenEnv); env != "" {
		token = strings.TrimSpace(os.Getenv(env))
	}
	return registry.NewClient(cfg.URL, token), nil
}

// applyGenesis credits the configured allocations the first time the store is
// opened.
func applyGenesis(manager *state.Manager, ledger *bank.Bank, allocs []config.Allocation, logger *slog.Logger) error {
	var applied bool
	ok, err := manager.KVGet(genesisMarkerKey, &applied)
	if err != nil {
		return fmt.Errorf("read genesis marker: %w", err)
	}
	if ok && applied {
		return nil
	}
	for i, alloc := range allocs {
		holder, err := types.ParseAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := alloc.Value()
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := ledger.Mint(holder, amount); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		logger.Info("genesis allocation applied",
			slog.String("address", types.FormatAddress(holder)),
			slog.String("amount", amount.String()))
	}
	return manager.KVPut(genesisMarkerKey, true)
}

// Close releases the journal and the key/value store.
func (n *node) Close() error {
	if n == nil {
		return nil
	}
	var errs []error
	if n.journal != nil {
		errs = append(errs, n.journal.Close())
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	return errors.Join(errs...)
}
