// Command server runs the business verification API: it scans wallet
// payment activity on the ledger, applies the verification thresholds,
// persists the outcome and notifies callers over signed webhooks.
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/allowance"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/config"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/dbpool"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/horizon"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/httpserver"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/httputil"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/lifecycle"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/verify"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/webhook"
)

const (
	serviceName     = "avante-verifier"
	serviceVersion  = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Missing .env is fine; production sets real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic("config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     serviceName,
		Version:     serviceVersion,
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	var pool *dbpool.SharedPool
	if cfg.Storage.Backend == "postgres" {
		pool, err = dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			log.Fatal().Err(err).Msg("startup.db_pool_failed")
		}
		resources.Register("db_pool", pool)
	}

	store, err := storage.New(cfg.Storage, pool, metricsCollector, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup.storage_failed")
	}
	resources.Register("storage", store)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	ledger := horizon.NewClient(
		cfg.Ledger.BaseURL,
		cfg.Ledger.Timeout.Duration,
		horizon.WithHTTPClient(httputil.NewClient(cfg.Ledger.Timeout.Duration)),
		horizon.WithPageLimit(cfg.Ledger.PageLimit),
		horizon.WithMaxRecords(cfg.Ledger.MaxRecords),
		horizon.WithBreaker(breakers),
		horizon.WithMetrics(metricsCollector),
	)

	dispatcher := webhook.NewDispatcher(
		store,
		log,
		cfg.Webhook.Timeout.Duration,
		cfg.Webhook.MaxAttempts,
		cfg.BackoffDurations(),
		webhook.WithHTTPClient(httputil.NewClient(cfg.Webhook.Timeout.Duration)),
		webhook.WithBreaker(breakers),
		webhook.WithMetrics(metricsCollector),
		webhook.WithMaxSnippet(cfg.Webhook.MaxSnippet),
	)

	verifier := verify.NewService(
		store,
		ledger,
		allowance.NewGate(store),
		dispatcher,
		metricsCollector,
		verify.Config{
			DefaultThresholds: verify.Thresholds{
				MinTotal:    cfg.Verification.MinTransactions,
				MinCredited: cfg.Verification.MinCreditedTransactions,
				MinUnique:   cfg.Verification.MinUniqueWallets,
			},
			CacheTTL:         cfg.Verification.CacheTTL.Duration,
			RateMax:          cfg.RateLimit.WalletMax,
			RateWindow:       cfg.RateLimit.WalletWindow.Duration,
			BatchMaxSize:     cfg.Batch.MaxSize,
			BatchConcurrency: cfg.Batch.Concurrency,
		},
	)

	server := httpserver.New(cfg, verifier, store, breakers, metricsCollector, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("storage_backend", cfg.Storage.Backend).
			Str("ledger_url", logger.RedactURL(cfg.Ledger.BaseURL)).
			Msg("server.starting")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("server.shutdown_requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server.listen_failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server.shutdown_failed")
	}

	// Let queued webhook deliveries finish before the store goes away.
	dispatcher.Drain()

	if err := resources.Close(); err != nil {
		log.Error().Err(err).Msg("server.resource_close_failed")
	}
	log.Info().Msg("server.stopped")
}
