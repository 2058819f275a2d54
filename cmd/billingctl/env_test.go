//go:build !integration

package main

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type recordingCache struct {
	set map[string]string
}

func (c *recordingCache) Ping(ctx context.Context) error { return nil }
func (c *recordingCache) Close() error                   { return nil }
func (c *recordingCache) Get(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("unexpected read of %s", key)
}
func (c *recordingCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.set[key] = fmt.Sprint(value)
	return nil
}
func (c *recordingCache) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (c *recordingCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (c *recordingCache) Del(ctx context.Context, keys ...string) error { return nil }

type invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

func TestPackageRepo_InvalidatesServiceCache(t *testing.T) {
	// --- Arrange ---
	cache := &recordingCache{set: map[string]string{}}

	// --- Act ---
	repo := packageRepo(nil, cache, time.Hour, nil)

	// --- Assert ---
	inv, ok := repo.(invalidator)
	if !ok {
		t.Fatalf("expected a cache-invalidating repository, got %T", repo)
	}
	inv.Invalidate(context.Background(), "u1")
	if cache.set["entitlement:gen:u1"] == "" {
		t.Errorf("expected the user's cache generation to rotate, got %v", cache.set)
	}
}

func TestPackageRepo_WithoutRedis(t *testing.T) {
	repo := packageRepo(nil, nil, time.Hour, nil)
	if _, ok := repo.(invalidator); ok {
		t.Errorf("expected the plain database repository, got %T", repo)
	}
}
