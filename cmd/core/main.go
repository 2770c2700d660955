package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/config"
	"github.com/yasasalwis/Naga-7/internal/database"
	"github.com/yasasalwis/Naga-7/internal/di"
	"github.com/yasasalwis/Naga-7/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger not built yet; bootstrap one for the failure
		log := logger.New(logger.Options{Process: "core", Pretty: true})
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Options{
		Process: "core",
		Level:   cfg.LogLevel,
		Pretty:  cfg.DevMode,
	})
	logger.ReplaceGlobal(log)

	log.Info().Msg("Starting Naga-7 Core")

	// Database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Fingerprint cache. Dev mode degrades to the in-process cache when
	// Redis is unreachable.
	var c cache.Cache
	c, err = cache.NewRedis(cfg.RedisURL, log)
	if err != nil {
		if !cfg.DevMode {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, using in-process cache (dev mode)")
		c = cache.NewMemory()
	}
	defer c.Close()

	// Message bus
	busClient, err := bus.Connect(bus.Options{
		URL:      cfg.NATSURL,
		Name:     "naga7-core",
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		CAFile:   cfg.NATSCAFile,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to message bus")
	}

	// Service graph
	container, err := di.Build(cfg, db, busClient, c, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service container")
	}
	if err := container.Check(); err != nil {
		log.Fatal().Err(err).Msg("Container wiring incomplete")
	}

	container.Pipeline.Start()
	container.Enricher.Probe(context.Background())

	if err := container.Subscribe(); err != nil {
		log.Fatal().Err(err).Msg("Failed to attach bus subscriptions")
	}

	container.Scheduler.Start()
	defer container.Scheduler.Shutdown()
	if err := container.RegisterJobs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register background jobs")
	}

	// Prime the IOC cache in the background so ingest enrichment has data
	go func() {
		if err := container.IntelFetcher.Run(); err != nil {
			log.Warn().Err(err).Msg("Initial TI feed fetch failed")
		}
	}()

	srv := container.HTTPServer()
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Core started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Core...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	// Stop intake, flush buffers, then drain the bus
	container.Pipeline.Stop()
	if err := busClient.Drain(); err != nil {
		log.Error().Err(err).Msg("Bus drain failed")
	}

	log.Info().Msg("Core stopped")
}
