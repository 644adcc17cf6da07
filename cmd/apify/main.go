// Command apify is the gateway's single binary: a CLI that loads a
// YAML config document and runs the control plane, the data plane, or
// both in-process, with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	goruntime "runtime"
	"strings"
	"syscall"
	"time"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/controlplane"
	"github.com/apifyhost/apify/dataplane"
	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/config"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/pkg/pgnotify"
)

// version is stamped by the release process; "dev" otherwise.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (required)")
	controlPlaneOnly := flag.Bool("control-plane", false, "run the control plane only")
	dataPlaneOnly := flag.Bool("data-plane", false, "run the data plane only")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("apify " + version)
		return
	}
	if *configPath == "" {
		log.Fatal("apify: --config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("apify: %v", err)
	}

	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = config.GetEnv("LOG_LEVEL", "info")
	}
	logger := logging.New("apify", logLevel, config.GetEnv("LOG_FORMAT", "json"))

	if threads, ok := config.ParseEnvInt("APIFY_THREADS"); ok && threads > 0 {
		goruntime.GOMAXPROCS(threads)
	}

	ctx := context.Background()

	dbURL := config.GetEnv("APIFY_DB_URL", cfg.ControlPlane.Database)
	catalogPool, err := dialect.Open(ctx, "catalog", driverFromDSN(dbURL), dbURL, 0)
	if err != nil {
		logger.Fatal(ctx, "open catalog database", err)
	}
	defer catalogPool.Close()

	store, err := catalog.New(ctx, catalogPool)
	if err != nil {
		logger.Fatal(ctx, "initialize catalog store", err)
	}

	if err := seedCatalog(ctx, store, cfg, logger); err != nil {
		logger.Fatal(ctx, "seed catalog from config", err)
	}

	runBoth := !*controlPlaneOnly && !*dataPlaneOnly

	// On a Postgres catalog, LISTEN/NOTIFY shortens the window between an
	// admin write and the data plane picking it up; the poll loop below
	// remains the source of truth either way, so a bus failure only costs
	// the fast path.
	var bus *pgnotify.Bus
	if catalogPool.Dialect.Driver() == dialect.Postgres {
		bus, err = pgnotify.New(dbURL)
		if err != nil {
			logger.Warn(ctx, "catalog notify bus unavailable, falling back to polling only", map[string]interface{}{"error": err.Error()})
		} else {
			store.Notify = bus
			defer bus.Close()
		}
	}

	var runtime *dataplane.Runtime
	var pools *dataplane.PoolCache
	if runBoth || *dataPlaneOnly {
		runtime = dataplane.New(store, logger)
		pollInterval := dataplane.DefaultPollInterval
		if seconds, ok := config.ParseEnvInt("APIFY_CONFIG_POLL_INTERVAL"); ok && seconds > 0 {
			pollInterval = time.Duration(seconds) * time.Second
		}
		if err := runtime.Start(ctx, pollInterval); err != nil {
			logger.Fatal(ctx, "start data plane", err)
		}
		if bus != nil {
			bus.Subscribe(func(notifyCtx context.Context, _ int64) {
				if err := runtime.ReconcileNow(notifyCtx); err != nil {
					logger.Error(notifyCtx, "notify-triggered reconcile failed", err, nil)
				}
			})
		}
		pools = runtime.Pools()
	} else {
		pools = dataplane.NewPoolCache()
	}

	var admin *controlplane.Server
	if runBoth || *controlPlaneOnly {
		addr := fmt.Sprintf("%s:%d", cfg.ControlPlane.Listen.IP, cfg.ControlPlane.Listen.Port)
		admin = controlplane.New(store, pools, cfg.ControlPlane.AdminKey, logger, addr)
		if err := admin.Start(); err != nil {
			logger.Fatal(ctx, "start control plane", err)
		}
		logger.Info(ctx, "control plane listening", map[string]interface{}{"addr": addr})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "control plane shutdown", err, nil)
		}
	}
	if runtime != nil {
		runtime.Stop(shutdownCtx)
	} else {
		pools.CloseAll()
	}
}

// driverFromDSN infers the catalog driver from its connection URL: a
// "postgres://"/"postgresql://" scheme selects PostgreSQL, anything
// else (a bare file path, "sqlite://...", ":memory:") is SQLite,
// mirroring the Driver enum's two supported backends.
func driverFromDSN(dsn string) dialect.Driver {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialect.Postgres
	default:
		return dialect.SQLite
	}
}
