package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/credential"
	"github.com/gatekeep-io/gatekeep/internal/invite"
	"github.com/gatekeep-io/gatekeep/internal/logger"
	"github.com/gatekeep-io/gatekeep/internal/metrics"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/session"
	"github.com/gatekeep-io/gatekeep/internal/store"
	memorystore "github.com/gatekeep-io/gatekeep/internal/store/memory"
	postgresstore "github.com/gatekeep-io/gatekeep/internal/store/postgres"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type ServerCmd struct {
	Listen string `help:"metrics/health listen address" default:"localhost:9090" env:"GATEKEEP_LISTEN"`

	// Engine configuration
	SessionTTL     time.Duration `help:"session TTL" default:"24h" env:"GATEKEEP_SESSION_TTL"`
	InvitationTTL  time.Duration `help:"invitation TTL" default:"168h" env:"GATEKEEP_INVITATION_TTL"`
	LinkSigningKey string        `help:"secret for signing invitation acceptance links (min 32 bytes)" env:"GATEKEEP_LINK_SIGNING_KEY"`
	RoleSeedFile   string        `help:"YAML file of builtin roles to seed on startup" default:"" env:"GATEKEEP_ROLE_SEED_FILE"`

	// Maintenance sweeps. Best effort only: expiry and revocation are
	// evaluated on every read, the sweeps just reclaim storage.
	SweepSchedule string `help:"cron schedule for maintenance sweeps" default:"@every 5m" env:"GATEKEEP_SWEEP_SCHEDULE"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"GATEKEEP_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection pool configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	metrics.Init()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting engine daemon")

	if len(c.LinkSigningKey) < 32 {
		return errors.New("link signing key is required (--link-signing-key or GATEKEEP_LINK_SIGNING_KEY, min 32 bytes)")
	}

	var (
		stores  store.Stores
		backend *postgresstore.Backend
	)

	switch c.StoreType {
	case "postgres":
		if c.PostgresStore.ConnString == "" {
			return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		backend = postgresstore.NewBackend(pool)
		defer backend.Close()
		stores = backend.Stores()
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		stores = memorystore.NewStores()
		log.Info().Msg("Using in-memory stores")
	}

	clk := clock.System{}
	recorder := audit.NewRecorder(stores.Audit, clk, log)
	defer recorder.Close()

	notifier := notify.LogNotifier{Logger: log}

	sessions := session.NewManager(stores, credential.Argon2TOTP{}, recorder, notifier, clk, log, session.Config{
		SessionTTL: c.SessionTTL,
	})
	evaluator := rbac.NewEvaluator(stores, recorder, clk, log)

	invitations, err := invite.NewWorkflow(stores, sessions, evaluator, recorder, notifier, clk, log, invite.Config{
		InvitationTTL:  c.InvitationTTL,
		LinkSigningKey: []byte(c.LinkSigningKey),
	})
	if err != nil {
		return fmt.Errorf("failed to create invitation workflow: %w", err)
	}

	if c.RoleSeedFile != "" {
		f, err := os.Open(c.RoleSeedFile)
		if err != nil {
			return fmt.Errorf("failed to open role seed file: %w", err)
		}
		err = evaluator.SeedRoles(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to seed roles: %w", err)
		}
		log.Info().Str("file", c.RoleSeedFile).Msg("Seeded builtin roles")
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(c.SweepSchedule, func() {
		runSweeps(ctx, log, stores, invitations, clk)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if backend != nil {
			if err := backend.Ping(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	server := configureHTTPServer(c.Listen, mux)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting metrics server")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// runSweeps reclaims storage held by expired state. Each sweep is
// independent; one failing does not stop the others.
func runSweeps(ctx context.Context, log zerolog.Logger, stores store.Stores, invitations *invite.Workflow, clk clock.Clock) {
	now := clk.Now()

	if count, err := stores.Sessions.DeleteExpired(ctx, now); err != nil {
		log.Warn().Err(err).Msg("expired session sweep failed")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("swept expired sessions")
	}

	if count, err := invitations.ExpireSweep(ctx); err != nil {
		log.Warn().Err(err).Msg("invitation expiry sweep failed")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("swept expired invitations")
	}

	if count, err := stores.Grants.DeactivateExpired(ctx, now); err != nil {
		log.Warn().Err(err).Msg("expired grant sweep failed")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("deactivated expired grants")
	}
}
