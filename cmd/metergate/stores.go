package main

import (
	"fmt"

	"github.com/apimarket/metergate/adapters/postgres"
	"github.com/apimarket/metergate/adapters/sqlite"
	"github.com/apimarket/metergate/config"
	"github.com/apimarket/metergate/ports"
)

// cliStores bundles the persistent stores the management commands use.
type cliStores struct {
	profiles ports.ProfileStore
	listings ports.ListingStore
	ledger   ports.UsageStore
	close    func() error
	marker   string
}

// openStores connects to the configured database for a one-shot command.
func openStores() (*cliStores, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &cliStores{
			profiles: sqlite.NewProfileStore(db),
			listings: sqlite.NewListingStore(db),
			ledger:   sqlite.NewUsageStore(db),
			close:    db.Close,
			marker:   cfg.Auth.KeyMarker,
		}, nil

	case "postgres":
		db, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &cliStores{
			profiles: postgres.NewProfileStore(db),
			listings: postgres.NewListingStore(db),
			ledger:   postgres.NewUsageStore(db),
			close:    db.Close,
			marker:   cfg.Auth.KeyMarker,
		}, nil

	default:
		return nil, fmt.Errorf("driver %q has no persistent state to manage", cfg.Database.Driver)
	}
}
