package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/db"
	"github.com/ledgerkeep/ledgerkeep-api/internal/httpapi"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd/memstore"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd/pgstore"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "ledgerkeep-api").Logger()

	// Pretty logging for local dev
	dev := env("ENV", "dev") == "dev"
	if dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Store selection: Postgres when configured, in-memory for local dev
	var backend syncd.Backend
	if pgURL := env("DATABASE_URL", ""); pgURL != "" {
		pool, err := db.Open(ctx, pgURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		backend = pgstore.New(pool)
	} else {
		if !dev {
			log.Fatal().Msg("DATABASE_URL is required outside dev")
		}
		log.Warn().Msg("no DATABASE_URL set, using in-memory store (data is not durable)")
		backend = memstore.New()
	}

	// HTTP server setup
	srv := &httpapi.Server{
		Sync:            syncd.New(backend),
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		DevMode:     dev,
	}

	httpAddr := env("HTTP_ADDR", ":8081")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
