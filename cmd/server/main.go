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
	"github.com/shopspring/decimal"

	"github.com/ratnathegod/cloud-cost-router/internal/api"
	"github.com/ratnathegod/cloud-cost-router/internal/config"
	"github.com/ratnathegod/cloud-cost-router/internal/providers"
	"github.com/ratnathegod/cloud-cost-router/internal/telemetry"
)

func main() {
	// logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	zerolog.TimeFieldFormat = time.RFC3339

	// config
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			log.Fatal().Err(err).Msg("failed to load config file")
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || !config.IsValidLogLevel(cfg.LogLevel) {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	for _, warning := range config.ValidateConfig(cfg) {
		log.Warn().Msg(warning)
	}

	// log effective configuration with secrets masked
	log.Info().Interface("config", cfg.MaskSecrets()).Msg("loaded configuration")

	// Observability init
	metrics := telemetry.MustNewMetrics()
	if shutdown, err := telemetry.InitOTEL(context.Background(), "cloud-cost-router", cfg.OtelEndpoint); err != nil {
		log.Warn().Err(err).Msg("OTEL init failed")
	} else {
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	set := buildProviders(context.Background(), cfg)
	for _, p := range set.All() {
		log.Info().Str("provider", p.Name()).Bool("configured", providers.Configured(p)).Msg("provider registered")
	}

	r := api.NewRouter(api.RouterOptions{
		Providers:  set,
		Metrics:    metrics,
		AdminToken: cfg.AdminToken,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// buildProviders registers aws and azure. A provider whose SDK cannot be
// initialised stays routable and reports the init error per request.
func buildProviders(ctx context.Context, cfg config.Config) *providers.Set {
	if cfg.EnableMockProviders {
		return providers.NewSet(
			providers.NewMockProvider(providers.AWS, 120, 400, 0.01, decimal.RequireFromString("41.27")),
			providers.NewMockProvider(providers.Azure, 200, 650, 0.01, decimal.RequireFromString("18.90")),
		)
	}

	var awsProvider providers.Provider
	if p, err := providers.NewAWSProvider(ctx, cfg.AWSRegion); err != nil {
		log.Warn().Err(err).Msg("aws provider unavailable")
		awsProvider = providers.NewUnavailable(providers.AWS, err)
	} else {
		awsProvider = p
	}

	var azureProvider providers.Provider
	if p, err := providers.NewAzureProvider(cfg.AzureSubscriptionID); err != nil {
		log.Warn().Err(err).Msg("azure provider unavailable")
		azureProvider = providers.NewUnavailable(providers.Azure, err)
	} else {
		azureProvider = p
	}

	return providers.NewSet(awsProvider, azureProvider)
}
