//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
)

// memRedis is an in-memory RedisClient; expirations are ignored.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemRedis() *memRedis { return &memRedis{data: map[string]string{}} }

func (m *memRedis) Ping(ctx context.Context) error { return nil }
func (m *memRedis) Close() error                   { return nil }
func (m *memRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("not supported")
}

func (m *memRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memRedis) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// cachedGrantKeys lists the value keys currently stored for userID.
func (m *memRedis) cachedGrantKeys(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, "entitlement:active:"+userID+":") {
			out = append(out, k)
		}
	}
	return out
}

func TestUserPackageRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	grant := &model.UserPackage{
		ID: "up-1", UserID: "user-1", PaymentID: "pay-1", PackageType: "vip_premium",
		PackageName: "VIP Premium", AmountPaid: decimal.RequireFromString("199.50"), IsActive: true,
		ActivatedAt: time.Now().UTC().Truncate(time.Second),
	}

	t.Run("FindActiveByUser should fetch from DB and cache under the user's generation", func(t *testing.T) {
		// --- Arrange ---
		var innerCalls int32
		cache := newMemRedis()
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				atomic.AddInt32(&innerCalls, 1)
				return grant, nil
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, cache, time.Minute, nil)

		// --- Act ---
		got, err := decorator.FindActiveByUser(ctx, nil, "user-1")
		again, err2 := decorator.FindActiveByUser(ctx, nil, "user-1")

		// --- Assert ---
		if err != nil || err2 != nil {
			t.Fatalf("expected no error, got %v / %v", err, err2)
		}
		if innerCalls != 1 {
			t.Errorf("expected one inner call, got %d", innerCalls)
		}
		gen, ok := cache.value("entitlement:gen:user-1")
		if !ok {
			t.Fatal("expected a generation key")
		}
		if _, ok := cache.value("entitlement:active:user-1:" + gen); !ok {
			t.Error("expected the grant to be cached under the current generation")
		}
		if got.PackageType != "vip_premium" || got.AmountPaid.StringFixed(2) != "199.50" {
			t.Errorf("unexpected grant %+v", got)
		}
		if again.PaymentID != "pay-1" || !again.IsActive {
			t.Errorf("unexpected cached grant %+v", again)
		}
	})

	t.Run("FindActiveByUser should serve a hit without touching the DB", func(t *testing.T) {
		// --- Arrange ---
		b, _ := jsonOf(grant)
		cache := newMemRedis()
		_ = cache.Set(ctx, "entitlement:gen:user-1", "g1", time.Minute)
		_ = cache.Set(ctx, "entitlement:active:user-1:g1", b, time.Minute)
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				t.Fatal("inner repository must not be called on a hit")
				return nil, nil
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, cache, time.Minute, nil)

		// --- Act ---
		got, err := decorator.FindActiveByUser(ctx, nil, "user-1")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.PaymentID != "pay-1" || !got.IsActive {
			t.Errorf("unexpected grant %+v", got)
		}
	})

	t.Run("FindActiveByUser should cache the absence of a grant", func(t *testing.T) {
		cache := newMemRedis()
		var innerCalls int
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				innerCalls++
				return nil, domain.ErrNotFound
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, cache, time.Minute, nil)

		for i := 0; i < 2; i++ {
			if _, err := decorator.FindActiveByUser(ctx, nil, "user-2"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("call %d: expected ErrNotFound, got %v", i, err)
			}
		}
		if innerCalls != 1 {
			t.Errorf("expected one inner call, got %d", innerCalls)
		}
	})

	t.Run("FindActiveByUser should bypass the cache inside a transaction", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Fatal("cache must not be read inside a transaction")
				return "", nil
			},
		}
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				return grant, nil
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, mockRedis, time.Minute, nil)
		if _, err := decorator.FindActiveByUser(ctx, struct{}{}, "user-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("FindActiveByUser should fall back to the DB when redis fails", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", errors.New("connection refused") },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				t.Fatal("nothing must be cached while redis is failing")
				return nil
			},
		}
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				return grant, nil
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, mockRedis, time.Minute, nil)
		got, err := decorator.FindActiveByUser(ctx, nil, "user-1")
		if err != nil || got.PaymentID != "pay-1" {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("an invalidation during a miss must not leave the old grant cached", func(t *testing.T) {
		// --- Arrange ---
		cache := newMemRedis()
		premium := &model.UserPackage{
			ID: "up-0", UserID: "user-1", PaymentID: "pay-0", PackageType: "premium",
			AmountPaid: decimal.RequireFromString("0.50"), IsActive: true,
		}
		var decorator *userPackageRepoCacheDecorator
		var innerCalls int32
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				if atomic.AddInt32(&innerCalls, 1) == 1 {
					// An activation commits and invalidates after this read saw the old row.
					decorator.Invalidate(ctx, userID)
					return premium, nil
				}
				return grant, nil
			},
		}
		decorator = NewUserPackageRepoCacheDecorator(inner, cache, time.Hour, nil)

		// --- Act ---
		first, err := decorator.FindActiveByUser(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("first read: %v", err)
		}
		second, err := decorator.FindActiveByUser(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("second read: %v", err)
		}

		// --- Assert ---
		if first.PackageType != "premium" {
			t.Errorf("first read should return what the DB returned, got %s", first.PackageType)
		}
		if second.PackageType != "vip_premium" {
			t.Errorf("expected vip_premium after invalidation, got %s", second.PackageType)
		}
		if innerCalls != 2 {
			t.Errorf("expected the second read to go to the DB, inner calls = %d", innerCalls)
		}
	})

	t.Run("concurrent misses should share one DB query", func(t *testing.T) {
		// --- Arrange ---
		var innerCalls int32
		release := make(chan struct{})
		cache := newMemRedis()
		_ = cache.Set(ctx, "entitlement:gen:user-1", "g1", time.Minute)
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				atomic.AddInt32(&innerCalls, 1)
				<-release
				return grant, nil
			},
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, cache, time.Minute, nil)

		// --- Act ---
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := decorator.FindActiveByUser(ctx, nil, "user-1"); err != nil {
					t.Errorf("unexpected error %v", err)
				}
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		// --- Assert ---
		if n := atomic.LoadInt32(&innerCalls); n < 1 || n > 8 {
			t.Errorf("unexpected inner call count %d", n)
		}
	})

	t.Run("writes should rotate the user's generation", func(t *testing.T) {
		// --- Arrange ---
		cache := newMemRedis()
		inner := &mockInnerUserPackageRepo{
			FindActiveByUserFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
				return grant, nil
			},
			DeactivateAllFunc: func(ctx context.Context, tx repository.Tx, userID string) (int64, error) { return 1, nil },
			InsertFunc:        func(ctx context.Context, tx repository.Tx, up *model.UserPackage) error { return nil },
		}
		decorator := NewUserPackageRepoCacheDecorator(inner, cache, time.Minute, nil)
		if _, err := decorator.FindActiveByUser(ctx, nil, "user-1"); err != nil {
			t.Fatal(err)
		}
		before, _ := cache.value("entitlement:gen:user-1")

		// --- Act ---
		if _, err := decorator.DeactivateAll(ctx, nil, "user-1"); err != nil {
			t.Fatal(err)
		}
		mid, _ := cache.value("entitlement:gen:user-1")
		if err := decorator.Insert(ctx, nil, grant); err != nil {
			t.Fatal(err)
		}
		after, _ := cache.value("entitlement:gen:user-1")

		// --- Assert ---
		if before == "" || before == mid || mid == after {
			t.Errorf("expected a new generation per write: %q %q %q", before, mid, after)
		}
		if keys := cache.cachedGrantKeys("user-1"); len(keys) != 1 || keys[0] != "entitlement:active:user-1:"+before {
			t.Errorf("unexpected cached keys %v", keys)
		}
	})

	t.Run("Uncached should return the database repository", func(t *testing.T) {
		inner := &mockInnerUserPackageRepo{}
		decorator := NewUserPackageRepoCacheDecorator(inner, newMemRedis(), time.Minute, nil)
		if decorator.Uncached() != repository.UserPackageRepository(inner) {
			t.Error("expected the inner repository")
		}
	})
}

func jsonOf(up *model.UserPackage) (string, error) {
	b, err := json.Marshal(toCached(up))
	return string(b), err
}
