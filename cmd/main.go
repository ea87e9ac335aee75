/**
 * @description
 * This is the main entry point for the reconciliation-service. It loads configuration,
 * connects to PostgreSQL, Redis and RabbitMQ, builds the provider clients and the
 * reconciliation core, and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared processed-event markers.
 * - internal/api, internal/app, internal/config, internal/logging, internal/store.
 * - pkg/providerclient, pkg/rabbitmq.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/reconciliation-service/internal/api"
	"github.com/transfa/reconciliation-service/internal/app"
	"github.com/transfa/reconciliation-service/internal/config"
	"github.com/transfa/reconciliation-service/internal/logging"
	"github.com/transfa/reconciliation-service/internal/store"
	"github.com/transfa/reconciliation-service/pkg/providerclient"
	rmrabbit "github.com/transfa/reconciliation-service/pkg/rabbitmq"
)

func main() {
	// Load .env for local development; absence is fine in deployed environments.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("config load failed", "component", "bootstrap", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	bootLog := logger.With("component", "bootstrap")
	bootLog.Info("starting reconciliation-service", "port", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		bootLog.Error("database url parse failed", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		bootLog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = store.RunMigrations(migrateCtx, dbpool)
	cancelMigrate()
	if err != nil {
		bootLog.Error("database migrations failed", "err", err)
		os.Exit(1)
	}
	bootLog.Info("database connected")

	repository := store.NewPostgresRepository(dbpool)

	var publisher rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		bootLog.Warn("rabbitmq producer unavailable; using fallback", "err", err)
		publisher = &rmrabbit.EventProducerFallback{Logger: logger}
	} else {
		publisher = producer
		bootLog.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	markers := buildEventMarkers(cfg, bootLog)

	notifier := app.NewStatusNotifier(publisher, cfg.EventsExchange, logger)
	applier := app.NewTransitionApplier(repository, notifier, logger)

	timeout := cfg.ProviderTimeout()
	btcpayClient := providerclient.NewBTCPayClient(cfg.BTCPayBaseURL, cfg.BTCPayAPIKey, cfg.BTCPayStoreID, timeout)
	clients := app.ProviderClients{
		Stripe:       providerclient.NewStripeClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey, timeout),
		PayPal:       providerclient.NewPayPalClient(cfg.PayPalAPIBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, timeout),
		BTCPay:       btcpayClient,
		Coinbase:     providerclient.NewCoinbaseClient(cfg.CoinbaseAPIBaseURL, cfg.CoinbaseAPIKey, timeout),
		AuthorizeNet: providerclient.NewAuthorizeNetClient(cfg.AuthNetAPIEndpoint, cfg.AuthNetLoginID, cfg.AuthNetTransactionKey, timeout),
	}

	transferService := app.NewTransferService(repository, clients, applier, app.TransferOptions{
		ProviderTimeout: timeout,
		DefaultCurrency: cfg.DefaultCurrency,
		ReturnURL:       cfg.CheckoutReturnURL,
		CancelURL:       cfg.CheckoutCancelURL,

		AuthorizeNetCurrency: cfg.AuthNetCurrency,
	}, logger)
	payoutService := app.NewPayoutService(repository, btcpayClient, applier, app.PayoutOptions{
		ProviderTimeout: timeout,
		PaymentMethod:   cfg.BTCPayPayoutMethod,
	}, logger)

	verifiers := app.NewSignatureVerifiers(app.WebhookSecrets{
		Stripe:       cfg.StripeWebhookSecret,
		PayPal:       cfg.PayPalWebhookSecret,
		BTCPay:       cfg.BTCPayWebhookSecret,
		Coinbase:     cfg.CoinbaseWebhookSecret,
		AuthorizeNet: cfg.AuthNetSignatureKey,
	})
	processor := app.NewEventProcessor(verifiers, repository, markers, applier, logger)

	// Reconcile requests from other services arrive on the events exchange.
	reconcileConsumer := app.NewReconcileConsumer(repository, applier, logger)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		bootLog.Warn("rabbitmq consumer unavailable; reconcile feed disabled", "err", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ReconcileQueue, reconcileConsumer.Bindings()); err != nil {
			bootLog.Error("reconcile consumer start failed", "err", err)
			os.Exit(1)
		}
	}

	sweeper := app.NewStaleTransferSweeper(repository, notifier, cfg.StalePendingAfter(), logger)
	scheduler := app.NewScheduler(sweeper, cfg.ReconcileSchedule, logger.With("component", "scheduler"))
	if err := scheduler.Start(); err != nil {
		bootLog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(transferService, payoutService, processor, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		Auth: api.AuthConfig{
			JWKSURL:  cfg.ClerkJWKSURL,
			Audience: cfg.ClerkAudience,
			Issuer:   cfg.ClerkIssuer,
		},
		AdminUserIDs:       cfg.AdminUserIDs,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "component", "http", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "component", "http", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", "component", "http")

	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "component", "http", "err", err)
	}
	logger.Info("shutdown complete", "component", "http")
}

// buildEventMarkers prefers shared Redis markers and falls back to process-local ones.
func buildEventMarkers(cfg config.Config, bootLog *slog.Logger) app.EventMarkers {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		bootLog.Warn("redis url missing; event markers are process-local", "env", "REDIS_URL")
		return app.NewMemoryEventMarkers(cfg.EventDedupeTTL())
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		bootLog.Warn("redis url parse failed; event markers are process-local", "err", err)
		return app.NewMemoryEventMarkers(cfg.EventDedupeTTL())
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		bootLog.Warn("redis ping failed; event markers are process-local", "err", err)
		_ = client.Close()
		return app.NewMemoryEventMarkers(cfg.EventDedupeTTL())
	}
	bootLog.Info("redis connected")
	return app.NewRedisEventMarkers(client, cfg.RedisKeyPrefix, cfg.EventDedupeTTL())
}
