/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave management server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults < YAML < LEAVE_* env < flags)
  2. Build the zerolog logger
  3. Open the store (sqlite, postgres or memory)
  4. Seed an empty store from --seed
  5. Wire organisation cache, workflow engine, ledger, rollover scheduler
  6. Configure HTTP router
  7. Serve until SIGINT/SIGTERM

FLAGS:
  --config             YAML configuration file (LEAVE_CONFIG)
  --addr               HTTP listen address (default :8080)
  --db-driver          sqlite | postgres | memory
  --db                 SQLite path or PostgreSQL DSN
  --jwt-secret         HS256 secret for bearer tokens (required)
  --rollover-schedule  cron expression, empty disables the scheduler
  --seed               organisation YAML loaded when the store is empty
  --demo               mount /api/scenarios

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollover scheduler (waits for a running job)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  # Local development with an in-memory store and demo scenarios
  ./server --db-driver=memory --jwt-secret=dev --demo --log-pretty

  # SQLite file seeded from an organisation definition
  ./server --db=./data/leave.db --seed=./org.yaml --jwt-secret=...

  # PostgreSQL
  LEAVE_DB_DRIVER=postgres LEAVE_DB=postgres://... ./server

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - factory/org.go: Seed file format
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/apettas/adeies/api"
	"github.com/apettas/adeies/config"
	"github.com/apettas/adeies/factory"
	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/notify"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/store/memory"
	"github.com/apettas/adeies/store/postgres"
	"github.com/apettas/adeies/store/sqlite"
	"github.com/apettas/adeies/telemetry"
	"github.com/apettas/adeies/workflow"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := telemetry.NewLogger(cfg.Server.LogLevel, cfg.Server.LogPretty, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	s, err := openStore(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer s.Close()
	log.Info().Str("driver", cfg.Server.DBDriver).Msg("store opened")

	orgCfg := cfg.Org
	if cfg.Server.Seed != "" {
		seeded, err := seed(ctx, s, cfg.Server.Seed, log)
		if err != nil {
			return err
		}
		if orgCfg.RootDepartmentID == "" {
			orgCfg = seeded.Org
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	orgs := org.NewCache(s, orgCfg)
	if _, err := orgs.Resolver(ctx); err != nil {
		// The demo can still load a scenario into a broken or empty store.
		if !cfg.Server.Demo {
			return fmt.Errorf("build organisation: %w", err)
		}
		log.Warn().Err(err).Msg("organisation snapshot unavailable")
	}

	engine := workflow.NewEngine(s, orgs,
		workflow.WithLogger(log),
		workflow.WithMetrics(metrics),
		workflow.WithNotifier(notify.NewLog(log)),
	)
	l := ledger.New(s,
		ledger.WithLogger(log),
		ledger.WithMetrics(metrics),
	)
	rollover := api.NewRolloverScheduler(l, s, cfg.Server.RolloverSchedule,
		api.WithSchedulerLogger(log.With().Str("component", "rollover").Logger()),
	)
	if err := rollover.Start(ctx); err != nil {
		return err
	}
	defer rollover.Stop()

	handler := api.NewHandler(api.Deps{
		Store:     s,
		Org:       orgs,
		Engine:    engine,
		Ledger:    l,
		Rollover:  rollover,
		JWTSecret: cfg.Server.JWTSecret,
		Log:       log,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     metrics,
		Demo:        cfg.Server.Demo,
		Log:         log,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Bool("demo", cfg.Server.Demo).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, s config.Server) (store.Store, error) {
	switch s.DBDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		st, err := sqlite.New(s.DB)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, s.DB)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", s.DBDriver)
}

// seed parses the definition at path and applies it when the store holds no
// users. The definition is returned either way for its org section.
func seed(ctx context.Context, s store.Store, path string, log zerolog.Logger) (*factory.Definition, error) {
	def, err := factory.LoadFile(path)
	if err != nil {
		return nil, err
	}
	users, err := s.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("check store: %w", err)
	}
	if len(users) > 0 {
		log.Info().Int("users", len(users)).Msg("store already populated, seed skipped")
		return def, nil
	}
	if err := def.Apply(ctx, s); err != nil {
		return nil, fmt.Errorf("apply seed: %w", err)
	}
	log.Info().
		Str("path", path).
		Int("departments", len(def.Departments)).
		Int("users", len(def.Users)).
		Int("leave_types", len(def.LeaveTypes)).
		Msg("store seeded")
	return def, nil
}
