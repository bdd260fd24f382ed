// riskcalc - Surgical risk calculation as a service.
// Copyright (c) 2025 opensource.clinical
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-clinical/riskcalc/internal/api"
	"github.com/opensource-clinical/riskcalc/internal/bus"
	"github.com/opensource-clinical/riskcalc/internal/cache"
	"github.com/opensource-clinical/riskcalc/internal/calculation"
	"github.com/opensource-clinical/riskcalc/internal/catalog"
	"github.com/opensource-clinical/riskcalc/internal/config"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/expr"
	"github.com/opensource-clinical/riskcalc/internal/logging"
	"github.com/opensource-clinical/riskcalc/internal/metrics"
	"github.com/opensource-clinical/riskcalc/internal/repository"
	"github.com/opensource-clinical/riskcalc/internal/tracing"
	"github.com/opensource-clinical/riskcalc/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to riskcalc.yaml")
	catalogPath := flag.String("catalog", "", "Path to a catalog bundle (overrides catalog.path)")
	flag.Parse()

	if err := run(*configPath, *catalogPath); err != nil {
		slog.Error("riskcalc failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, catalogPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting riskcalc",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	if evicted := expr.Shared().Resize(cfg.Calculation.ExpressionCacheSize); evicted > 0 {
		slog.Debug("expression cache resized", "evicted", evicted)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	cat, err := loadCatalog(ctx, cfg.Catalog, repo)
	if err != nil {
		return err
	}

	m := metrics.New()
	svc := calculation.NewService(cat, repo, cacheImpl, busImpl, m, cfg.Calculation)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Calculation.Workers {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Calculation.MaxParallel}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, m, Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		// Stop async worker first
		if asyncWorker != nil {
			if err := asyncWorker.Stop(); err != nil {
				slog.Error("failed to stop worker", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	slog.Info("riskcalc is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("riskcalc shutdown complete")
	return nil
}

// loadCatalog builds the catalog served at startup. A configured file wins
// and is stored in the repository when seeding is requested or the
// repository holds no catalog yet. Without a file the newest stored version
// is used; if there is none the server starts unready until a catalog is
// posted to /catalog/reload.
func loadCatalog(ctx context.Context, cfg domain.CatalogConfig, repo domain.Repository) (*catalog.Catalog, error) {
	cat := catalog.New(nil)

	if cfg.Path == "" {
		bundle, err := catalog.LoadFromRepository(ctx, repo)
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("no catalog configured or stored - post one to /catalog/reload")
			return cat, nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := cat.Reload(bundle); err != nil {
			return nil, fmt.Errorf("stored catalog version %d is invalid: %w", bundle.Version, err)
		}
		return cat, nil
	}

	bundle, err := catalog.LoadFile(cfg.Path)
	if err != nil {
		return nil, err
	}

	seed := cfg.SeedRepository
	if !seed {
		_, err := repo.LatestCatalog(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			seed = true
		case err != nil:
			return nil, fmt.Errorf("failed to inspect stored catalogs: %w", err)
		}
	}
	if seed {
		version, err := catalog.Seed(ctx, repo, bundle)
		if err != nil {
			return nil, err
		}
		slog.Info("catalog stored in repository", "path", cfg.Path, "version", version)
	}

	if _, err := cat.Reload(bundle); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", cfg.Path, err)
	}
	return cat, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 RISKCALC                  ║")
	fmt.Println("  ║      Surgical Risk Calculation Engine     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /specialties               - List specialties")
	fmt.Println("    GET  /specialties/{name}        - Variables required by a specialty")
	fmt.Println("    GET  /models/{name}             - Describe a risk model")
	fmt.Println("    GET  /procedures?q=             - Search CPT procedures")
	fmt.Println("    POST /calculations              - Calculate risk for a specialty")
	fmt.Println("    GET  /calculations/{id}         - Get calculation by ID")
	fmt.Println("    POST /calculations/{id}/sign    - Sign a calculation for a patient")
	fmt.Println("    GET  /patients/{dfn}/results    - Signed results of a patient")
	fmt.Println("    POST /catalog/reload            - Hot-reload the catalog")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
