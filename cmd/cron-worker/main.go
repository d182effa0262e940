package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wishpot/wishpot-backend/internal/cron"
	"github.com/wishpot/wishpot-backend/internal/fees"
	"github.com/wishpot/wishpot-backend/internal/fulfillments"
	"github.com/wishpot/wishpot-backend/internal/items"
	"github.com/wishpot/wishpot-backend/internal/ledger"
	"github.com/wishpot/wishpot-backend/internal/payouts"
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

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	only := flag.String("jobs", "", "comma-separated job names to run; empty runs all")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing, "wishpot-cron-worker", logg)
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

	fulfillmentService, fulfillmentRepo, err := buildSettlement(cfg, logg, dbClient, connector)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewFulfillmentReconcileJob(cron.FulfillmentReconcileJobParams{
		Logger:            logg,
		Fulfillments:      fulfillmentRepo,
		Settler:           fulfillmentService,
		Connector:         connector,
		Limit:             cfg.Fulfillment.ReconcileLimit,
		Lookback:          cfg.Fulfillment.ReconcileLookback,
		StalePendingAfter: cfg.Fulfillment.StalePendingAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Fulfillment.OutboxRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+envOrLocal(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(reconcileJob, retentionJob).Select(strings.Split(*only, ",")...)
	if err != nil {
		logg.Error(context.Background(), "invalid --jobs selection", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Fulfillment.ReconcileInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"once":        *once,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildSettlement wires the fulfillment service the reconcile job settles through.
func buildSettlement(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, connector *payouts.StripeConnector) (*fulfillments.Service, fulfillments.Repository, error) {
	calculator, err := fees.NewCalculator(cfg.Fees.RatePercent)
	if err != nil {
		return nil, nil, err
	}
	conn := dbClient.DB()
	itemRepo := items.NewRepository(conn)
	repo := fulfillments.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, nil, err
	}
	accounts, err := payouts.NewAccountService(payouts.NewAccountRepository(conn), connector, connector, logg)
	if err != nil {
		return nil, nil, err
	}
	guard, err := fulfillments.NewGuard(dbClient, itemRepo, repo, calculator, emitter)
	if err != nil {
		return nil, nil, err
	}
	svc, err := fulfillments.NewService(fulfillments.ServiceParams{
		Tx:               dbClient,
		Guard:            guard,
		Repo:             repo,
		Items:            itemRepo,
		Accounts:         accounts,
		Connector:        connector,
		Ledger:           ledgerService,
		Outbox:           emitter,
		EstimatedArrival: cfg.Fulfillment.EstimatedArrival(),
		Metrics:          metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer),
		Logger:           logg,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, repo, nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
