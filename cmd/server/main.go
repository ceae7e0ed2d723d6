package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"prayukti-judge/internal/api"
	"prayukti-judge/internal/cache"
	"prayukti-judge/internal/config"
	"prayukti-judge/internal/judge"
	"prayukti-judge/internal/monitor"
	"prayukti-judge/internal/sandbox"
	"prayukti-judge/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			log.Fatal().Err(err).Msg("invalid environment overrides")
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics()

	// Storage: PostgreSQL when a DSN is configured, in-memory otherwise
	var store storage.Store
	if cfg.Database.DSN != "" {
		db, err := storage.New(ctx, cfg.Database.DSN, storage.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("database unavailable")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		store = db
	} else {
		log.Warn().Msg("no database configured, submissions are kept in memory only")
		store = storage.NewMemory()
	}
	defer store.Close()

	var experiments storage.ExperimentStore = store
	cacheEnabled := false
	if cfg.Cache.RedisAddr != "" {
		client, err := cache.NewClient(cache.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, experiment cache disabled")
		} else {
			defer client.Close()
			c := cache.NewExperimentCache(store, client, cfg.Cache.TTL, cfg.Cache.KeyPrefix)
			c.OnLookup(metrics.RecordCacheLookup)
			experiments = c
			cacheEnabled = true
		}
	}

	engine, err := sandbox.NewEngineFromConfig(cfg, func(path string, err error) {
		metrics.CleanupFailures.Inc()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize judge engine")
	}

	svc := judge.NewService(experiments, store, engine, metrics)

	if cfg.Judge.SeedFile != "" {
		if _, err := svc.Seed(ctx, cfg.Judge.SeedFile); err != nil {
			log.Fatal().Err(err).Str("path", cfg.Judge.SeedFile).Msg("failed to seed experiments")
		}
	}

	server := api.NewServer(cfg, svc, store, engine, metrics)

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", cfg.Database.DSN != "").
		Bool("cache_enabled", cacheEnabled).
		Str("toolchain", cfg.Judge.Toolchain).
		Msg("server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		// In-flight gradings finish before the ledger closes.
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("engine close error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		return
	}

	log.Info().Msg("server stopped")
}
