/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the savings engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load YAML config with environment overrides
  3. Initialize SQLite store
  4. Wire gateway, engine, reconciliation sweeper
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (default: config.yaml)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler, wait for in-flight sweeps
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/savings.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  GATEWAY_SECRET_KEY is required; see config/config.go for the full list
  of overrides.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
  - reconcile/sweeper.go: Background reconciliation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearth/savings-engine/api"
	"github.com/hearth/savings-engine/config"
	"github.com/hearth/savings-engine/gateway/hosted"
	"github.com/hearth/savings-engine/reconcile"
	"github.com/hearth/savings-engine/savings"
	"github.com/hearth/savings-engine/store/sqlite"
)

// openDirectory answers property availability checks. The marketplace's
// property service is a separate deployment; until its client is wired in,
// every listed property is treated as available.
type openDirectory struct{}

func (openDirectory) IsAvailable(context.Context, savings.PropertyID) (bool, error) {
	return true, nil
}

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine
	gateway := hosted.New(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)
	rates := savings.StaticRates{Rates: savings.Rates{
		DepositChargePercent:          savings.MustParsePercent(cfg.Savings.DepositChargePercent),
		EarlyWithdrawalPenaltyPercent: savings.MustParsePercent(cfg.Savings.EarlyWithdrawalFeePercent),
	}}
	engine := savings.NewEngine(store, gateway, rates, openDirectory{},
		savings.LogNotificationSink{}, savings.LogAuditSink{})

	// Background reconciliation
	sweeper := reconcile.NewSweeper(engine, store, cfg.MaxAge())
	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	defer cancelSweeps()
	if err := sweeper.Start(sweepCtx, cfg.Reconcile.Cron); err != nil {
		log.Fatalf("Failed to start reconciliation sweep: %v", err)
	}

	// Create router
	handler := api.NewHandler(engine, sweeper)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	cancelSweeps()
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
