package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"matrimony-billing/internal/config"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
	payAdapters "matrimony-billing/internal/infra/adapters/payment"
	pg "matrimony-billing/internal/infra/db/postgres"
	"matrimony-billing/internal/infra/logging"
	"matrimony-billing/internal/infra/notify"
	red "matrimony-billing/internal/infra/redis"
	"matrimony-billing/internal/usecase"
)

// env is the subset of the service wiring the commands need. Alerts are sent
// synchronously since the process exits right after.
type env struct {
	cfg      *config.Config
	log      *zerolog.Logger
	pool     *pgxpool.Pool
	redis    *red.Client
	table    model.PriceTable
	repo     repository.PaymentRepository
	payments usecase.PaymentUseCase
	stats    usecase.StatsUseCase
}

func loadConfig() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log, cfg.Runtime.Dev), nil
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("database.url (or DATABASE_URL) is required")
	}
	table, err := cfg.PriceTable()
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Activations made here must rotate the service's entitlement cache.
	var cache red.RedisClient
	var rc *red.Client
	if cfg.Redis.URL != "" {
		rc, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; the service may serve cached entitlements until they expire")
			rc = nil
		} else {
			cache = rc
		}
	}

	payRepo := pg.NewPaymentRepo(pool)
	pkgRepo := packageRepo(pool, cache, cfg.Redis.TTL, logger)
	notifier := notify.FromConfig(cfg.Alerts, logger)
	epoint := payAdapters.NewEpointGateway(cfg.Payment.Epoint, cfg.Payment.GatewayTimeout)
	gateways := []adapter.PaymentGateway{
		payAdapters.NewPayPalGateway(cfg.Payment.PayPal, cfg.Payment.GatewayTimeout),
		epoint,
	}

	entitlements := usecase.NewEntitlementUseCase(payRepo, pkgRepo, pg.NewTxManager(pool), table, notifier, logger)
	pricing := usecase.NewPricingUseCase(table, pkgRepo, logger)
	payments := usecase.NewPaymentUseCase(payRepo, pricing, entitlements, gateways, epoint, nil, notifier, nil,
		usecase.PaymentOptions{AbandonAfter: cfg.Scheduler.AbandonAfter}, logger)

	return &env{
		cfg:      cfg,
		log:      logger,
		pool:     pool,
		redis:    rc,
		table:    table,
		repo:     payRepo,
		payments: payments,
		stats:    usecase.NewStatsUseCase(payRepo, logger),
	}, nil
}

// packageRepo wraps the database repository in the entitlement cache when
// cache is set, so writes invalidate the keys the service reads.
func packageRepo(pool *pgxpool.Pool, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserPackageRepository {
	var repo repository.UserPackageRepository = pg.NewUserPackageRepo(pool)
	if cache != nil {
		repo = pg.NewUserPackageRepoCacheDecorator(repo, cache, ttl, logger)
	}
	return repo
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.pool.Close()
}
