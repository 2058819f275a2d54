//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTable() model.PriceTable {
	return model.PriceTable{
		"premium": {
			ID: "premium", Name: "Premium",
			Prices: map[string]decimal.Decimal{"USD": dec("0.50"), "AZN": dec("0.85")},
		},
		"vip_premium": {
			ID: "vip_premium", Name: "VIP Premium",
			Prices: map[string]decimal.Decimal{"USD": dec("200"), "AZN": dec("340")},
		},
		"golden_premium": {
			ID: "golden_premium", Name: "Golden Premium", Lifetime: true,
			Prices: map[string]decimal.Decimal{"USD": dec("500"), "AZN": dec("850")},
		},
	}
}

// ---- Mock PaymentGateway (adapter) ----

type MockPaymentGateway struct {
	MethodVal model.PaymentMethod

	AuthenticateFunc func(ctx context.Context) (adapter.AccessToken, error)
	CreateOrderFunc  func(ctx context.Context, req adapter.OrderRequest) (*adapter.Order, error)
	CaptureOrderFunc func(ctx context.Context, orderID string, tok adapter.AccessToken, idempotencyKey string) (*adapter.CaptureResult, error)

	mu       sync.Mutex
	Captures int
	Orders   []adapter.OrderRequest
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Method() model.PaymentMethod {
	if m.MethodVal == "" {
		return model.PaymentMethodPayPal
	}
	return m.MethodVal
}

func (m *MockPaymentGateway) Currency() string { return m.Method().Currency() }

func (m *MockPaymentGateway) Authenticate(ctx context.Context) (adapter.AccessToken, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	return adapter.AccessToken{Scheme: "Bearer", Value: "tok"}, nil
}

func (m *MockPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.Order, error) {
	m.mu.Lock()
	m.Orders = append(m.Orders, req)
	m.mu.Unlock()
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	id := "ORDER-" + req.PaymentID
	return &adapter.Order{OrderID: id, ApprovalURL: "https://pay.example/" + id, Raw: json.RawMessage(`{"id":"` + id + `"}`)}, nil
}

func (m *MockPaymentGateway) CaptureOrder(ctx context.Context, orderID string, tok adapter.AccessToken, key string) (*adapter.CaptureResult, error) {
	m.mu.Lock()
	m.Captures++
	m.mu.Unlock()
	if m.CaptureOrderFunc != nil {
		return m.CaptureOrderFunc(ctx, orderID, tok, key)
	}
	return &adapter.CaptureResult{Status: "COMPLETED", Completed: true, PaidAmount: "0.50", PaidCurrency: "USD", TransactionID: "CAP-" + orderID}, nil
}

// capturing returns a CaptureOrderFunc reporting the given amount and currency.
func capturing(amount, currency string) func(context.Context, string, adapter.AccessToken, string) (*adapter.CaptureResult, error) {
	return func(_ context.Context, orderID string, _ adapter.AccessToken, _ string) (*adapter.CaptureResult, error) {
		return &adapter.CaptureResult{
			Status: "COMPLETED", Completed: true, PaidAmount: amount, PaidCurrency: currency,
			TransactionID: "CAP-" + orderID, Raw: json.RawMessage(`{"status":"COMPLETED"}`),
		}, nil
	}
}

// ---- Mock WebhookVerifier ----

type MockWebhookVerifier struct {
	ParseWebhookFunc func(data, signature string) (*adapter.WebhookNotification, error)
}

var _ adapter.WebhookVerifier = (*MockWebhookVerifier)(nil)

func (m *MockWebhookVerifier) ParseWebhook(data, signature string) (*adapter.WebhookNotification, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(data, signature)
	}
	return nil, domain.ErrInvalidSignature
}

// ---- Mock OpsNotifier ----

type MockNotifier struct {
	mu     sync.Mutex
	Alerts []adapter.Alert
}

var _ adapter.OpsNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, a)
	return nil
}

func (m *MockNotifier) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Alerts))
	for _, a := range m.Alerts {
		out = append(out, a.Kind)
	}
	return out
}

// ---- Mock AuditArchive ----

type MockAuditArchive struct {
	mu     sync.Mutex
	Events []string
}

var _ adapter.AuditArchive = (*MockAuditArchive)(nil)

func (m *MockAuditArchive) Archive(ctx context.Context, paymentID, event string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, paymentID+":"+event)
	return nil
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, userID, action string) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, userID, action string) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, userID, action)
	}
	return true, nil
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentRecord // by id

	FindByIDFunc               func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error)
	MarkCompletedFunc          func(ctx context.Context, tx repository.Tx, id, transactionID string, raw json.RawMessage) (bool, error)
	ClaimActivationFunc        func(ctx context.Context, tx repository.Tx, id string) (bool, error)
	SumCompletedByCurrencyFunc func(ctx context.Context, tx repository.Tx, since time.Time) (map[string]decimal.Decimal, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.PaymentRecord{}}
}

func clonePayment(p *model.PaymentRecord) *model.PaymentRecord {
	cp := *p
	return &cp
}

// Put stores rec as-is, for arranging state directly.
func (r *MockPaymentRepo) Put(rec *model.PaymentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[rec.ID] = clonePayment(rec)
}

func (r *MockPaymentRepo) Get(id string) *model.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (r *MockPaymentRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockPaymentRepo) snapshot() map[string]*model.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]*model.PaymentRecord, len(r.data))
	for k, v := range r.data {
		cp[k] = clonePayment(v)
	}
	return cp
}

func (r *MockPaymentRepo) restore(s map[string]*model.PaymentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = s
}

func (r *MockPaymentRepo) CreatePending(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := r.data[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, p := range r.data {
		if p.UserID == rec.UserID && p.Status == model.PaymentStatusPending {
			reason := "superseded by a newer checkout"
			p.Status = model.PaymentStatusFailed
			p.FailureReason = &reason
		}
	}
	r.data[rec.ID] = clonePayment(rec)
	return nil
}

func (r *MockPaymentRepo) SetGatewayOrder(ctx context.Context, tx repository.Tx, id, orderID string, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return domain.ErrNotFound
	}
	p.GatewayOrderID = &orderID
	p.GatewayResponse = raw
	return nil
}

func (r *MockPaymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, transactionID string, raw json.RawMessage) (bool, error) {
	if r.MarkCompletedFunc != nil {
		return r.MarkCompletedFunc(ctx, tx, id, transactionID, raw)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusCompleted
	p.ServerValidated = true
	p.TransactionID = &transactionID
	p.GatewayResponse = raw
	return true, nil
}

func (r *MockPaymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string, raw json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	p.FailureReason = &reason
	if raw != nil {
		p.GatewayResponse = raw
	}
	return true, nil
}

func (r *MockPaymentRepo) ClaimActivation(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	if r.ClaimActivationFunc != nil {
		return r.ClaimActivationFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusCompleted || p.ActivatedAt != nil {
		return false, nil
	}
	now := time.Now()
	p.ActivatedAt = &now
	return true, nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	if p := r.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, method model.PaymentMethod, orderID string) (*model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.PaymentMethod == method && p.GatewayOrderID != nil && *p.GatewayOrderID == orderID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) list(limit int, keep func(*model.PaymentRecord) bool) []*model.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range r.data {
		if keep(p) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	return r.list(limit, func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan)
	}), nil
}

func (r *MockPaymentRepo) ListCompletedUnactivated(ctx context.Context, tx repository.Tx, limit int) ([]*model.PaymentRecord, error) {
	return r.list(limit, func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusCompleted && p.ActivatedAt == nil
	}), nil
}

func (r *MockPaymentRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error) {
	return r.list(limit, func(p *model.PaymentRecord) bool { return p.Status == status }), nil
}

func (r *MockPaymentRepo) SumCompletedByCurrency(ctx context.Context, tx repository.Tx, since time.Time) (map[string]decimal.Decimal, error) {
	if r.SumCompletedByCurrencyFunc != nil {
		return r.SumCompletedByCurrencyFunc(ctx, tx, since)
	}
	out := map[string]decimal.Decimal{}
	for _, p := range r.list(0, func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusCompleted && !p.CreatedAt.Before(since)
	}) {
		out[p.Currency] = out[p.Currency].Add(p.Amount)
	}
	return out, nil
}

// ---- Mock UserPackageRepository ----

type MockUserPackageRepo struct {
	mu   sync.Mutex
	rows []*model.UserPackage

	InsertFunc func(ctx context.Context, tx repository.Tx, up *model.UserPackage) error
	Locks      int
}

var _ repository.UserPackageRepository = (*MockUserPackageRepo)(nil)

func NewMockUserPackageRepo() *MockUserPackageRepo { return &MockUserPackageRepo{} }

// Grant arranges an active package for userID.
func (r *MockUserPackageRepo) Grant(userID string, pkg model.PackageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, &model.UserPackage{
		ID: uuid.NewString(), UserID: userID, PaymentID: uuid.NewString(),
		PackageType: pkg, IsActive: true, ActivatedAt: time.Now(),
	})
}

// Rows returns copies of every row ever inserted for userID.
func (r *MockUserPackageRepo) Rows(userID string) []model.UserPackage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UserPackage
	for _, up := range r.rows {
		if up.UserID == userID {
			out = append(out, *up)
		}
	}
	return out
}

func (r *MockUserPackageRepo) snapshot() []*model.UserPackage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.UserPackage, 0, len(r.rows))
	for _, up := range r.rows {
		cp := *up
		out = append(out, &cp)
	}
	return out
}

func (r *MockUserPackageRepo) restore(rows []*model.UserPackage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = rows
}

func (r *MockUserPackageRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if up := r.rows[i]; up.UserID == userID && up.IsActive {
			cp := *up
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserPackageRepo) DeactivateAll(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, up := range r.rows {
		if up.UserID == userID && up.IsActive {
			up.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *MockUserPackageRepo) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	if r.InsertFunc != nil {
		if err := r.InsertFunc(ctx, tx, up); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *up
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MockUserPackageRepo) CountActive(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, up := range r.rows {
		if up.UserID == userID && up.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *MockUserPackageRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Locks++
	return nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error

	// serialises transactions the way the per-user advisory lock would
	mu sync.Mutex
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// NewRollbackTxManager restores both repositories when fn fails, like a
// real transaction rollback.
func NewRollbackTxManager(payments *MockPaymentRepo, packages *MockUserPackageRepo) *MockTxManager {
	tm := &MockTxManager{}
	tm.WithTxFunc = func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		ps, us := payments.snapshot(), packages.snapshot()
		if err := fn(ctx, "tx"); err != nil {
			payments.restore(ps)
			packages.restore(us)
			return err
		}
		return nil
	}
	return tm
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
