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

	"github.com/wishpot/wishpot-backend/api/routes"
	"github.com/wishpot/wishpot-backend/internal/contributions"
	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/internal/payouts"
	stripewebhook "github.com/wishpot/wishpot-backend/internal/webhooks/stripe"
	"github.com/wishpot/wishpot-backend/pkg/config"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/metrics"
	"github.com/wishpot/wishpot-backend/pkg/migrate"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
	"github.com/wishpot/wishpot-backend/pkg/redis"
	"github.com/wishpot/wishpot-backend/pkg/stripe"
	"github.com/wishpot/wishpot-backend/pkg/tracing"
)

const (
	stripeEventTTL   = 7 * 24 * time.Hour
	stripeEventScope = "stripe-webhook"
	shutdownTimeout  = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing, "wishpot-api", logg)
	if err != nil {
		logg.Error(context.Background(), "failed to set up tracing", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logg.Error(context.Background(), "error flushing traces", err)
		}
	}()

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	connector, err := payouts.NewStripeConnector(stripeClient, cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout connector", err)
		os.Exit(1)
	}

	fulfillmentMetrics := metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)

	calculator, err := fees.NewCalculator(cfg.Fees.RatePercent)
	if err != nil {
		logg.Error(context.Background(), "invalid fee configuration", err)
		os.Exit(1)
	}
	conn := dbClient.DB()
	itemRepo := items.NewRepository(conn)
	fulfillmentRepo := fulfillments.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	accountService, err := payouts.NewAccountService(payouts.NewAccountRepository(conn), connector, connector, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout account service", err)
		os.Exit(1)
	}

	guard, err := fulfillments.NewGuard(dbClient, itemRepo, fulfillmentRepo, calculator, emitter)
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation guard", err)
		os.Exit(1)
	}
	fulfillmentService, err := fulfillments.NewService(fulfillments.ServiceParams{
		Tx:               dbClient,
		Guard:            guard,
		Repo:             fulfillmentRepo,
		Items:            itemRepo,
		Accounts:         accountService,
		Connector:        connector,
		Ledger:           ledgerService,
		Outbox:           emitter,
		EstimatedArrival: cfg.Fulfillment.EstimatedArrival(),
		Metrics:          fulfillmentMetrics,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	contributionService, err := contributions.NewService(contributions.ServiceParams{
		Tx:      dbClient,
		Repo:    contributions.NewRepository(conn),
		Items:   itemRepo,
		Ledger:  ledgerService,
		Outbox:  emitter,
		Metrics: fulfillmentMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create contribution service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Contributions: contributionService,
		Fulfillments:  fulfillmentService,
		Accounts:      accountService,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, stripeEventTTL, stripeEventScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe event guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, prometheus.DefaultGatherer, stripeClient, routes.Services{
			Fulfillments: fulfillmentService,
			Preview:      items.NewPreviewService(itemRepo, fulfillmentRepo, calculator),
			Payouts:      accountService,
			Webhooks:     webhookService,
			WebhookGuard: webhookGuard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
