/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cylinder custody engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment config
  2. Initialize the store backend (sqlite or remote)
  3. Load the reference-data snapshot and start the refresher
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to a .env file (optional; environment wins)

ENVIRONMENT:
  APP_PORT               HTTP server port (default 8080)
  STORE_BACKEND          "sqlite" (default) or "remote"
  STORE_PATH             SQLite database path; ":memory:" for ephemeral
  RECORDS_SERVICE_URL    Remote backend base URL
  RECORDS_SERVICE_TOKEN  Remote backend bearer token
  MAIL_GATEWAY_URL       Outbound mail gateway; empty disables email
  MAIL_GATEWAY_TOKEN     Mail gateway bearer token
  CATALOG_CRON_SCHEDULE  Reference-data reload schedule (default every 4h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the catalog refresher and close the store
  4. Exit

EXAMPLES:
  # Run with file database
  STORE_PATH=./data/custody.db ./server

  # Run against the records service
  STORE_BACKEND=remote RECORDS_SERVICE_URL=https://records.example.com \
    RECORDS_SERVICE_TOKEN=... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment parsing
  - store/sqlite, store/remote: Backends
*/
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/api"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/config"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/factory"
	"github.com/labworks/custody-engine/logging"
	"github.com/labworks/custody-engine/notify"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/store/remote"
	"github.com/labworks/custody-engine/store/sqlite"
	"github.com/labworks/custody-engine/workorder"
)

// backend is the full persistence surface the engine consumes. Both the
// sqlite and remote stores satisfy it.
type backend interface {
	custody.Registry
	custody.LedgerStore
	custody.CheckoutStore
	custody.SampleStore
	workorder.Store
	catalog.Source
	access.IdentitySource
	factory.RuleWriter
}

func main() {
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	log := logging.Must(logging.New())
	defer log.Sync()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Store backend
	var store backend
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			log.Fatal("failed to initialize database", zap.Error(err))
		}
		store = s
	case "remote":
		store = remote.New(cfg.Store.URL, cfg.Store.Token)
	}
	defer func() {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
	}()

	// Reference data
	snapshot := catalog.NewSnapshot(store)
	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := snapshot.Load(loadCtx); err != nil {
		log.Warn("initial catalog load failed, will retry on demand", zap.Error(err))
	}
	cancel()

	refresher := catalog.NewRefresher(snapshot, logging.Named(log, "catalog"))
	if err := refresher.Start(cfg.Catalog.CronSchedule); err != nil {
		log.Fatal("invalid catalog cron schedule", zap.Error(err))
	}
	defer refresher.Stop()

	// Mail
	var mailer notify.Mailer = notify.Nop{}
	if cfg.Mail.URL != "" {
		mailer = notify.NewGateway(cfg.Mail.URL, cfg.Mail.Token, logging.Named(log, "mail"))
	}

	// Domain wiring
	ledger := custody.NewLedger(store)
	seq := custody.NewSequenceAllocator(store)
	pricer := pricing.NewEngine(snapshot)
	assembler := workorder.NewAssembler(store, ledger, pricer, seq, store,
		logging.Named(log, "workorder"))

	handler := api.NewHandler(api.Deps{
		Registry:  store,
		Ledger:    ledger,
		Checkouts: store,
		Samples:   store,
		Orders:    store,
		Snapshot:  snapshot,
		Pricer:    pricer,
		Seq:       seq,
		Assembler: assembler,
		Editor:    workorder.NewEditor(store, pricer),
		Importer:  factory.NewImporter(store, snapshot),
		Notifier:  notify.NewCheckoutConfirmer(snapshot, mailer),
		Log:       logging.Named(log, "api"),
	})

	auth := &api.Authenticator{
		Identities:  store,
		Permissions: snapshot,
		Log:         logging.Named(log, "auth"),
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, auth),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("backend", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
