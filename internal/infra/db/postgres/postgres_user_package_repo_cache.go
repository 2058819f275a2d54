package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
	"matrimony-billing/internal/infra/metrics"
	red "matrimony-billing/internal/infra/redis"
)

var _ repository.UserPackageRepository = (*userPackageRepoCacheDecorator)(nil)

// noActivePackage is cached for users without an active grant.
const noActivePackage = "none"

type userPackageRepoCacheDecorator struct {
	inner repository.UserPackageRepository
	cache red.RedisClient
	ttl   time.Duration
	group singleflight.Group
	log   *zerolog.Logger
}

// NewUserPackageRepoCacheDecorator caches non-transactional active-package
// reads. Concurrent misses for the same user share one database query.
func NewUserPackageRepoCacheDecorator(inner repository.UserPackageRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) *userPackageRepoCacheDecorator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &userPackageRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

// The generation key names the live cache slot for a user. Invalidate rotates
// it, so a miss that read the database before a commit can only fill a slot
// nobody reads any more.
func generationKey(userID string) string {
	return fmt.Sprintf("entitlement:gen:%s", userID)
}

func activePackageKey(userID, gen string) string {
	return fmt.Sprintf("entitlement:active:%s:%s", userID, gen)
}

type cachedUserPackage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	PaymentID   string    `json:"payment_id"`
	PackageType string    `json:"package_type"`
	PackageName string    `json:"package_name"`
	AmountPaid  string    `json:"amount_paid"`
	IsLifetime  bool      `json:"is_lifetime"`
	ActivatedAt time.Time `json:"activated_at"`
}

func (d *userPackageRepoCacheDecorator) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	// Reads inside a transaction must see the transaction's own writes.
	if tx != nil {
		metrics.IncCacheRequest("entitlement", "bypass")
		return d.inner.FindActiveByUser(ctx, tx, userID)
	}

	gen, err := d.generation(ctx, userID)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache unavailable")
		metrics.IncCacheRequest("entitlement", "bypass")
		return d.inner.FindActiveByUser(ctx, nil, userID)
	}

	key := activePackageKey(userID, gen)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		if up, derr := decodeCachedPackage(val); derr == nil || errors.Is(derr, domain.ErrNotFound) {
			metrics.IncCacheRequest("entitlement", "hit")
			return up, derr
		}
	} else if !red.IsMiss(err) {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache read failed")
	}

	metrics.IncCacheRequest("entitlement", "miss")
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		up, err := d.inner.FindActiveByUser(ctx, nil, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			_ = d.cache.Set(ctx, key, noActivePackage, d.ttl)
			return nil, err
		case err != nil:
			return nil, err
		}
		if b, merr := json.Marshal(toCached(up)); merr == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
		return up, nil
	})
	if err != nil {
		return nil, err
	}
	up := *v.(*model.UserPackage)
	return &up, nil
}

// Writes invalidate eagerly; Invalidate must be called again after the
// surrounding transaction commits.
func (d *userPackageRepoCacheDecorator) DeactivateAll(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	d.Invalidate(ctx, userID)
	return d.inner.DeactivateAll(ctx, tx, userID)
}

func (d *userPackageRepoCacheDecorator) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	if up != nil {
		d.Invalidate(ctx, up.UserID)
	}
	return d.inner.Insert(ctx, tx, up)
}

// generation returns the user's current slot, starting a new one when none
// exists. The slot must be resolved before the database read it guards.
func (d *userPackageRepoCacheDecorator) generation(ctx context.Context, userID string) (string, error) {
	gen, err := d.cache.Get(ctx, generationKey(userID))
	if err == nil {
		return gen, nil
	}
	if !red.IsMiss(err) {
		return "", err
	}
	gen = uuid.NewString()
	if err := d.cache.Set(ctx, generationKey(userID), gen, d.ttl); err != nil {
		return "", err
	}
	return gen, nil
}

func (d *userPackageRepoCacheDecorator) Invalidate(ctx context.Context, userID string) {
	if err := d.cache.Set(ctx, generationKey(userID), uuid.NewString(), d.ttl); err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache invalidation failed")
	}
}

// Uncached returns the repository behind the cache, for reads that price money.
func (d *userPackageRepoCacheDecorator) Uncached() repository.UserPackageRepository {
	return d.inner
}

// Pass-through methods that don't need caching
func (d *userPackageRepoCacheDecorator) CountActive(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	return d.inner.CountActive(ctx, tx, userID)
}

func (d *userPackageRepoCacheDecorator) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	return d.inner.LockUser(ctx, tx, userID)
}

func toCached(up *model.UserPackage) cachedUserPackage {
	return cachedUserPackage{
		ID:          up.ID,
		UserID:      up.UserID,
		PaymentID:   up.PaymentID,
		PackageType: string(up.PackageType),
		PackageName: up.PackageName,
		AmountPaid:  up.AmountPaid.StringFixed(2),
		IsLifetime:  up.IsLifetime,
		ActivatedAt: up.ActivatedAt,
	}
}

func decodeCachedPackage(val string) (*model.UserPackage, error) {
	if val == noActivePackage {
		return nil, domain.ErrNotFound
	}
	var c cachedUserPackage
	if err := json.Unmarshal([]byte(val), &c); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(c.AmountPaid)
	if err != nil {
		return nil, err
	}
	return &model.UserPackage{
		ID:          c.ID,
		UserID:      c.UserID,
		PaymentID:   c.PaymentID,
		PackageType: model.PackageID(c.PackageType),
		PackageName: c.PackageName,
		AmountPaid:  amount,
		IsActive:    true,
		IsLifetime:  c.IsLifetime,
		ActivatedAt: c.ActivatedAt,
	}, nil
}
