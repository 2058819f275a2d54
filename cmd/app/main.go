package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"matrimony-billing/internal/config"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
	payAdapters "matrimony-billing/internal/infra/adapters/payment"
	"matrimony-billing/internal/infra/api"
	"matrimony-billing/internal/infra/audit"
	"matrimony-billing/internal/infra/auth"
	pg "matrimony-billing/internal/infra/db/postgres"
	"matrimony-billing/internal/infra/logging"
	"matrimony-billing/internal/infra/metrics"
	"matrimony-billing/internal/infra/notify"
	red "matrimony-billing/internal/infra/redis"
	"matrimony-billing/internal/infra/sched"
	"matrimony-billing/internal/infra/worker"
	"matrimony-billing/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop gateway)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		// logger is not configured yet
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	if pool == nil {
		logger.Warn().Msg("database.url not set; payment requests will fail with a configuration error")
	} else {
		defer pool.Close()
	}

	// ---- Redis (optional: cache, rate limit, reconciler lock) ----
	var rc *red.Client
	if cfg.Redis.URL != "" {
		rc, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Error().Err(err).Msg("redis unavailable; running without cache, rate limit and job lock")
			rc = nil
		} else {
			defer rc.Close()
		}
	}

	// ---- Background workers (alerts, audit uploads) ----
	workers := worker.NewPool(cfg.Scheduler.NotifierWorkers, logger)
	workers.Start(context.WithoutCancel(ctx))
	defer workers.Stop()

	notifier := notify.NewAsync(notify.FromConfig(cfg.Alerts, logger), workers, logger)

	var archive adapter.AuditArchive
	if cfg.Audit.S3.Bucket != "" {
		s3c, err := audit.NewS3Client(ctx, cfg.Audit)
		if err != nil {
			logger.Error().Err(err).Msg("audit archive disabled")
		} else {
			archive = audit.NewAsync(audit.NewS3Archive(s3c, cfg.Audit.S3.Bucket, cfg.Audit.S3.Prefix), workers)
		}
	}

	// ---- Repositories ----
	table, err := cfg.PriceTable()
	if err != nil {
		logger.Fatal().Err(err).Msg("price table")
	}
	payRepo := pg.NewPaymentRepo(pool)
	var pkgRepo repository.UserPackageRepository = pg.NewUserPackageRepo(pool)
	if rc != nil {
		pkgRepo = pg.NewUserPackageRepoCacheDecorator(pkgRepo, rc, cfg.Redis.TTL, logger)
	}
	tm := pg.NewTxManager(pool)

	// ---- Gateways ----
	paypal := payAdapters.NewPayPalGateway(cfg.Payment.PayPal, cfg.Payment.GatewayTimeout)
	epoint := payAdapters.NewEpointGateway(cfg.Payment.Epoint, cfg.Payment.GatewayTimeout)
	gateways := []adapter.PaymentGateway{paypal, epoint}
	if cfg.Runtime.Dev {
		gateways = append(gateways, payAdapters.NewNoopPaymentGateway(model.PaymentMethodOther))
		logger.Warn().Msg("dev mode: noop gateway enabled for payment_method=other")
	}

	// ---- Use cases ----
	var limiter usecase.RateLimiter
	if rc != nil {
		limiter = red.NewUserActionLimiter(rc, cfg.Payment.CheckoutRateLimit, time.Minute)
	}
	entitlementUC := usecase.NewEntitlementUseCase(payRepo, pkgRepo, tm, table, notifier, logger)
	pricingUC := usecase.NewPricingUseCase(table, pkgRepo, logger)
	paymentUC := usecase.NewPaymentUseCase(
		payRepo, pricingUC, entitlementUC, gateways, epoint, limiter, notifier, archive,
		usecase.PaymentOptions{AbandonAfter: cfg.Scheduler.AbandonAfter}, logger,
	)
	statsUC := usecase.NewStatsUseCase(payRepo, logger)

	// ---- HTTP ----
	server := api.NewServer(api.Deps{
		Payments:       paymentUC,
		Pricing:        pricingUC,
		Entitlements:   entitlementUC,
		Stats:          statsUC,
		Verifier:       auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience),
		AdminAPIKey:    cfg.Admin.APIKey,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(cfg.HTTP.Port) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// ---- Reconciler ----
	if pool != nil {
		var locker red.Locker
		if rc != nil {
			locker = red.NewLocker(rc)
		}
		reconciler := sched.NewPaymentReconciler(paymentUC, payRepo, locker, notifier, sched.ReconcilerOptions{
			Schedule:   cfg.Scheduler.ReconcileCron,
			StaleAfter: cfg.Scheduler.StaleAfter,
			BatchSize:  cfg.Scheduler.BatchSize,
		}, logger)
		if err := reconciler.Start(gctx); err != nil {
			logger.Fatal().Err(err).Msg("reconciler")
		}
		defer reconciler.Stop()

		g.Go(func() error {
			reportPoolStats(gctx, pool)
			return nil
		})
		g.Go(func() error {
			reportBacklog(gctx, statsUC, cfg.Scheduler.StaleAfter, logger)
			return nil
		})
	}

	logger.Info().Str("version", version).Int("port", cfg.HTTP.Port).Msg("billing service started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
		return
	}
	logger.Info().Msg("shutdown complete")
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}

// reportBacklog logs how much work the reconciler has left.
func reportBacklog(ctx context.Context, stats usecase.StatsUseCase, staleAfter time.Duration, logger *zerolog.Logger) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stale, unactivated, err := stats.Backlog(ctx, time.Now().Add(-staleAfter))
			if err != nil {
				logger.Warn().Err(err).Msg("backlog check failed")
				continue
			}
			if stale > 0 || unactivated > 0 {
				logger.Warn().Int("stale_pending", stale).Int("unactivated", unactivated).Msg("payment backlog")
			}
		}
	}
}
