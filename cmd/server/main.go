package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/api"
	"github.com/eldtechnologies/pulse/internal/auth"
	"github.com/eldtechnologies/pulse/internal/config"
	"github.com/eldtechnologies/pulse/internal/realtime"
	"github.com/eldtechnologies/pulse/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	authenticator, err := auth.NewTokenVerifier(cfg.AuthPublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("AUTH_PUBLIC_KEY is not usable; generate a keypair with cmd/genkey")
	}

	// Durable store: Postgres when configured, SQLite otherwise
	var st store.Store
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		st = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else if cfg.SQLitePath != "" {
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer lite.Close()
		st = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	} else {
		logger.Warn().Msg("no store configured, sessions and history are in-memory only")
	}

	// Redis message cache (optional)
	var cache *store.RedisCache
	if cfg.RedisURL != "" {
		cache, err = store.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		logger.Info().Msg("connected to Redis")
	}

	hub := realtime.NewHub(cfg, logger, authenticator, realtime.RolePolicy{}, st, cache)

	housekeeper := realtime.NewHousekeeper(hub, cfg.HousekeeperInterval, int64(cfg.MemoryPressureBytes), logger)
	housekeeper.Start()

	router := api.NewRouter(logger, hub, st, cache)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting pulse server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server forced to shutdown")
	}

	housekeeper.Stop()
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("hub forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
