// Package commands implements the admin CLI. Commands talk directly to the
// configured store backend; there is no intermediate API server.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/logger"
	"github.com/gatekeep-io/gatekeep/internal/store"
	memorystore "github.com/gatekeep-io/gatekeep/internal/store/memory"
	postgresstore "github.com/gatekeep-io/gatekeep/internal/store/postgres"
	"github.com/rs/zerolog"
)

type Globals struct {
	Debug   bool
	Version string
}

// StoreFlags selects the backend every admin command operates on. Memory is
// only useful for dry runs; real administration points at postgres.
type StoreFlags struct {
	StoreType  string `help:"store type (memory or postgres)" default:"postgres" env:"GATEKEEP_STORE_TYPE" enum:"memory,postgres"`
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
}

// engine bundles what admin commands need.
type engine struct {
	stores   store.Stores
	recorder *audit.Recorder
	clock    clock.Clock
	logger   zerolog.Logger
	close    func()
}

func setup(ctx context.Context, globals *Globals, flags StoreFlags) (*engine, error) {
	log := logger.Setup(globals.Debug)

	var (
		stores    store.Stores
		closeFunc = func() {}
	)

	switch flags.StoreType {
	case "postgres":
		if flags.ConnString == "" {
			return nil, errors.New("PostgreSQL connection string is required (--conn-string or POSTGRES_CONNECTION_STRING)")
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{ConnString: flags.ConnString})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		backend := postgresstore.NewBackend(pool)
		stores = backend.Stores()
		closeFunc = backend.Close

	default:
		stores = memorystore.NewStores()
		log.Warn().Msg("Using in-memory stores; changes will not persist")
	}

	clk := clock.System{}
	recorder := audit.NewRecorder(stores.Audit, clk, log)

	return &engine{
		stores:   stores,
		recorder: recorder,
		clock:    clk,
		logger:   log,
		close: func() {
			recorder.Close()
			closeFunc()
		},
	}, nil
}
