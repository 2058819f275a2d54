package postgres

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
)

var _ repository.UserPackageRepository = (*userPackageRepo)(nil)

type userPackageRepo struct{ pool *pgxpool.Pool }

func NewUserPackageRepo(pool *pgxpool.Pool) *userPackageRepo {
	return &userPackageRepo{pool: pool}
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
// It requires a pgx.Tx; outside a transaction the lock would be released at once.
func (r *userPackageRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	if _, err := ptx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(userID)); err != nil {
		return mapExecErr(err)
	}
	return nil
}

func (r *userPackageRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	const q = `
SELECT id, user_id, payment_id, package_type, package_name, amount_paid::text, is_active, is_lifetime, activated_at
  FROM user_packages
 WHERE user_id = $1 AND is_active
 ORDER BY activated_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}

	var (
		up          model.UserPackage
		pkg, amount string
	)
	if err := row.Scan(&up.ID, &up.UserID, &up.PaymentID, &pkg, &up.PackageName, &amount, &up.IsActive, &up.IsLifetime, &up.ActivatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	up.PackageType = model.PackageID(pkg)
	if up.AmountPaid, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &up, nil
}

func (r *userPackageRepo) DeactivateAll(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	const q = `UPDATE user_packages SET is_active = FALSE, deactivated_at = NOW() WHERE user_id = $1 AND is_active;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, mapExecErr(err)
	}
	return cmd.RowsAffected(), nil
}

func (r *userPackageRepo) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	if up == nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO user_packages (
  id, user_id, payment_id, package_type, package_name, amount_paid, is_active, is_lifetime, activated_at
) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		up.ID, up.UserID, up.PaymentID, string(up.PackageType), up.PackageName, up.AmountPaid.StringFixed(2),
		up.IsActive, up.IsLifetime, up.ActivatedAt)
	return mapExecErr(err)
}

func (r *userPackageRepo) CountActive(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM user_packages WHERE user_id = $1 AND is_active;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
