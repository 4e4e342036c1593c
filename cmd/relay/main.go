package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/s33g/oai-relay/internal/config"
	"github.com/s33g/oai-relay/internal/logging"
	"github.com/s33g/oai-relay/internal/proxy"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	envFile := flag.String("env-file", "", "Load environment variables from this dotenv file")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	logger := log.With().Str("component", "main").Logger()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Fatal().Err(err).Str("path", *envFile).Msg("Failed to load env file")
		}
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	base, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure logging")
	}
	logger = base.With().Str("component", "main").Logger()

	if os.Getenv(cfg.Upstream.APIKeyEnv) == "" {
		// Not fatal: the forwarder answers 500 until the key shows up
		logger.Warn().Str("env", cfg.Upstream.APIKeyEnv).Msg("API key is not set")
	}

	fwd := proxy.NewForwarder(&cfg.Upstream, base)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           proxy.NewHandler(cfg.Server.Route, fwd, base),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout(),
		WriteTimeout:      cfg.Server.WriteTimeout(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) error {
			fwd.Reload(&newCfg.Upstream)
			return nil
		}, base)
		if err != nil {
			// Non-fatal - just log the error
			logger.Warn().Err(err).Msg("Failed to create config watcher - hot reload disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("route", cfg.Server.Route).
			Str("upstream", cfg.Upstream.BaseURL).
			Msg("Relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Relay server failed")
		}
	}()

	<-ctx.Done()

	// Cleanup
	logger.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
