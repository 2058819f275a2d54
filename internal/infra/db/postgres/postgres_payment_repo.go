package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentColumns = `id, user_id, package_type, package_name, amount::text, currency, status, payment_method,
  gateway_order_id, transaction_id, gateway_response::text, server_validated, failure_reason, activated_at,
  created_at, updated_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

// CreatePending supersedes the user's in-flight checkouts and inserts rec.
// With a nil tx both statements run in a transaction of their own.
func (r *paymentRepo) CreatePending(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	if rec == nil || rec.Status != model.PaymentStatusPending {
		return domain.ErrInvalidArgument
	}
	if tx != nil {
		return r.createPending(ctx, tx, rec)
	}
	return NewTxManager(r.pool).WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return r.createPending(ctx, tx, rec)
	})
}

func (r *paymentRepo) createPending(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	const supersede = `
UPDATE payment_records
   SET status = 'failed', failure_reason = 'superseded', updated_at = NOW()
 WHERE user_id = $1 AND status = 'pending';`
	if _, err := execSQL(ctx, r.pool, tx, supersede, rec.UserID); err != nil {
		return mapExecErr(err)
	}

	const insert = `
INSERT INTO payment_records (
  id, user_id, package_type, package_name, amount, currency, status, payment_method,
  server_validated, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,FALSE,$9,$10);`
	_, err := execSQL(ctx, r.pool, tx, insert,
		rec.ID, rec.UserID, string(rec.PackageType), rec.PackageName, rec.AmountString(), rec.Currency,
		string(rec.Status), string(rec.PaymentMethod), rec.CreatedAt, rec.UpdatedAt)
	return mapExecErr(err)
}

func (r *paymentRepo) SetGatewayOrder(ctx context.Context, tx repository.Tx, id, orderID string, gatewayResponse json.RawMessage) error {
	const q = `
UPDATE payment_records
   SET gateway_order_id = $2, gateway_response = COALESCE($3::jsonb, gateway_response), updated_at = NOW()
 WHERE id = $1 AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, orderID, jsonArg(gatewayResponse))
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCompleted moves a pending record to completed. The status predicate in
// the WHERE clause is the concurrency guard: only one caller observes true.
func (r *paymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, transactionID string, gatewayResponse json.RawMessage) (bool, error) {
	const q = `
UPDATE payment_records
   SET status = 'completed',
       transaction_id = NULLIF($2, ''),
       gateway_response = COALESCE($3::jsonb, gateway_response),
       server_validated = TRUE,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'pending'`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, transactionID, jsonArg(gatewayResponse))
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string, gatewayResponse json.RawMessage) (bool, error) {
	const q = `
UPDATE payment_records
   SET status = 'failed',
       failure_reason = $2,
       gateway_response = COALESCE($3::jsonb, gateway_response),
       updated_at = NOW()
 WHERE id = $1
   AND status = 'pending'`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, reason, jsonArg(gatewayResponse))
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ClaimActivation(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `
UPDATE payment_records
   SET activated_at = NOW(), updated_at = NOW()
 WHERE id = $1
   AND status = 'completed'
   AND activated_at IS NULL`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, method model.PaymentMethod, orderID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE payment_method=$1 AND gateway_order_id=$2 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, string(method), orderID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, normLimit(limit))
}

func (r *paymentRepo) ListCompletedUnactivated(ctx context.Context, tx repository.Tx, limit int) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
WHERE status='completed' AND activated_at IS NULL ORDER BY updated_at ASC LIMIT $1;`
	return r.list(ctx, tx, q, normLimit(limit))
}

func (r *paymentRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
WHERE status=$1 ORDER BY created_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, string(status), normLimit(limit))
}

func (r *paymentRepo) SumCompletedByCurrency(ctx context.Context, tx repository.Tx, since time.Time) (map[string]decimal.Decimal, error) {
	const q = `SELECT currency, COALESCE(SUM(amount),0)::text FROM payment_records
WHERE status='completed' AND updated_at >= $1 GROUP BY currency;`
	rows, err := queryRows(ctx, r.pool, tx, q, since)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var cur, sum string
		if err := rows.Scan(&cur, &sum); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		v, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[cur] = v
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentRecord, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		p                           model.PaymentRecord
		pkg, amount, status, method string
		gatewayResponse             *string
	)
	err := row.Scan(&p.ID, &p.UserID, &pkg, &p.PackageName, &amount, &p.Currency, &status, &method,
		&p.GatewayOrderID, &p.TransactionID, &gatewayResponse, &p.ServerValidated, &p.FailureReason, &p.ActivatedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.PackageType = model.PackageID(pkg)
	p.Status = model.PaymentStatus(status)
	p.PaymentMethod = model.PaymentMethod(method)
	if gatewayResponse != nil {
		p.GatewayResponse = json.RawMessage(*gatewayResponse)
	}
	return &p, nil
}

// jsonArg turns an empty payload into SQL NULL so COALESCE keeps the stored
// value. Non-JSON provider bodies are stored as a JSON string.
func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		b, _ := json.Marshal(string(raw))
		return string(b)
	}
	return string(raw)
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
