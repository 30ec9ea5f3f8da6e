/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the energy ledger server: configuration, SQLite
  store, engine wiring, genesis application, HTTP router, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse flags and the optional TOML config file
  2. Open the SQLite store (periods, history, counters, events)
  3. Build the period registry and the engine
  4. Apply the genesis document (period schedule, release time, roles)
  5. Start the metrics refresher and the HTTP server

CONFIGURATION:
  Flags override the config file:
    -config  TOML config path (optional)
    -db      SQLite database path (":memory:" for in-memory)
    -listen  HTTP listen address (default :8080)
    -genesis JSON genesis document path (optional)

  TOML schema:
    listen  = ":8080"
    db      = "./data/energy.db"
    genesis = "./genesis.json"

    [metrics]
    enabled         = true
    refresh_seconds = 30

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain for up to 30s,
  stop the metrics refresher, close the database.

SEE ALSO:
  - api/server.go: Router configuration
  - factory/genesis.go: Genesis document schema
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/warp/energy-ledger/api"
	"github.com/warp/energy-ledger/energy"
	"github.com/warp/energy-ledger/factory"
	"github.com/warp/energy-ledger/store/sqlite"
)

type config struct {
	Listen  string        `toml:"listen"`
	DB      string        `toml:"db"`
	Genesis string        `toml:"genesis"`
	Metrics metricsConfig `toml:"metrics"`
}

type metricsConfig struct {
	Enabled        bool  `toml:"enabled"`
	RefreshSeconds int64 `toml:"refresh_seconds"`
}

func defaultConfig() config {
	return config{
		Listen:  ":8080",
		DB:      "energy.db",
		Metrics: metricsConfig{Enabled: true, RefreshSeconds: 30},
	}
}

func loadConfig() (config, error) {
	configPath := flag.String("config", "", "TOML config file path")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	genesisPath := flag.String("genesis", "", "genesis JSON path (overrides config)")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *genesisPath != "" {
		cfg.Genesis = *genesisPath
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := sqlite.New(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	clock := energy.SystemClock{}

	registry, err := energy.NewRegistry(ctx, st, st, clock)
	if err != nil {
		log.Fatalf("Failed to load period catalogue: %v", err)
	}

	access := energy.NewAccessControl()
	engine, err := energy.New(energy.Config{
		Registry:      registry,
		History:       st,
		Auction:       st,
		PrimaryLedger: st.Ledger(energy.SourcePrimary),
		BonusLedger:   st.Ledger(energy.SourceBonus),
		Spender:       st,
		Access:        access,
		Lifecycle:     energy.NewLifecycle(),
		Events:        st,
		Clock:         clock,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	if cfg.Genesis != "" {
		data, err := os.ReadFile(cfg.Genesis)
		if err != nil {
			log.Fatalf("Failed to read genesis file: %v", err)
		}
		genesis, err := factory.Parse(data)
		if err != nil {
			log.Fatalf("Failed to parse genesis file: %v", err)
		}
		if err := genesis.Apply(ctx, registry, access, st); err != nil {
			log.Fatalf("Failed to apply genesis: %v", err)
		}
		log.Printf("Genesis applied: %d periods, %d role bindings", len(genesis.Periods), len(genesis.Roles))
	}

	var metrics *api.Metrics
	var refresher *api.MetricsRefresher
	if cfg.Metrics.Enabled {
		metrics = api.NewMetrics()
		refresher = api.NewMetricsRefresher(engine, metrics, clock)
		if cfg.Metrics.RefreshSeconds > 0 {
			refresher.Interval = time.Duration(cfg.Metrics.RefreshSeconds) * time.Second
		}
		refresher.Start()
		defer refresher.Stop()
	}

	handler := api.NewHandler(engine, st, metrics, clock)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Energy ledger listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
