//go:build !integration

package postgres

import (
	"context"
	"time"

	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
	red "matrimony-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserPackageRepo mocks the database repository that the entitlement decorator wraps.
type mockInnerUserPackageRepo struct {
	FindActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error)
	DeactivateAllFunc    func(ctx context.Context, tx repository.Tx, userID string) (int64, error)
	InsertFunc           func(ctx context.Context, tx repository.Tx, up *model.UserPackage) error
	CountActiveFunc      func(ctx context.Context, tx repository.Tx, userID string) (int, error)
	LockUserFunc         func(ctx context.Context, tx repository.Tx, userID string) error
}

func (m *mockInnerUserPackageRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	return m.FindActiveByUserFunc(ctx, tx, userID)
}
func (m *mockInnerUserPackageRepo) DeactivateAll(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	return m.DeactivateAllFunc(ctx, tx, userID)
}
func (m *mockInnerUserPackageRepo) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	return m.InsertFunc(ctx, tx, up)
}
func (m *mockInnerUserPackageRepo) CountActive(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	return m.CountActiveFunc(ctx, tx, userID)
}
func (m *mockInnerUserPackageRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	return m.LockUserFunc(ctx, tx, userID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
