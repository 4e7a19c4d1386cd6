/*
main.go - Application entry point

PURPOSE:
  Starts the guard ledger server and hosts the operator subcommands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve       HTTP API (default when no subcommand is given)
  counters    Print a profile's counters
  guards      Print a profile's guard accounts
  verify      Compare displayed counters with recomputed ones
  reconcile   Reindex every guard account of one or all profiles

STARTUP SEQUENCE (serve):
  1. Load config (--config file, then GUARD_* environment)
  2. Open the store (sqlite or memory)
  3. Build the engine with the audit sinks
  4. Start the reconciliation scheduler
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  ./server serve --config guard.toml
  GUARD_DB=":memory:" ./server serve
  ./server counters alice --as-of 2025-06-01

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings and environment overrides
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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/guard-ledger/api"
	"github.com/warp/guard-ledger/config"
	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/generic/store"
	"github.com/warp/guard-ledger/guard"
	"github.com/warp/guard-ledger/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "guard-ledger",
	Short: "Guard duty compensatory leave ledger",
	Long: `guard-ledger tracks guard weeks, the free days they earn, and the
vacation and personal leave taken around them. Every change is validated
against the day conflict rules and applied to the ledger atomically.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .toml or .yaml config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  generic.TxStore
	engine *guard.Engine
	close  func() error
}

// newApp loads the config and builds the store and engine.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger(os.Stderr)

	a := &app{cfg: cfg, log: log, close: func() error { return nil }}
	sinks := guard.MultiAuditSink{guard.LogAuditSink{Logger: log.With().Str("component", "audit").Logger()}}

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		db.SetLogger(log.With().Str("component", "sqlite").Logger())
		a.store = db
		a.close = db.Close
		sinks = append(sinks, db)
	case config.DriverMemory:
		a.store = store.NewMemory()
	}

	a.engine = guard.NewEngine(a.store, cfg.Ledger,
		guard.WithAuditSink(sinks),
		guard.WithLogger(log.With().Str("component", "engine").Logger()),
	)
	return a, nil
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewHandler(a.engine, a.store, a.log.With().Str("component", "api").Logger())

	scheduler := api.NewReconciliationScheduler(a.engine, a.log)
	scheduler.Enabled = a.cfg.Scheduler.Enabled
	if d := a.cfg.Scheduler.IntervalDuration(); d > 0 {
		scheduler.CheckInterval = d
	}
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.NewRouter(handler, a.cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().
			Int("port", a.cfg.Server.Port).
			Str("storage", a.cfg.Storage.Driver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	a.log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info().Msg("server stopped")
	return nil
}
