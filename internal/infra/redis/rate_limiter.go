package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter: INCR, and EXPIRE on the first hit.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

func UserActionKey(userID, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", userID, action)
}

// UserActionLimiter applies one limit and window to every user action.
type UserActionLimiter struct {
	rl     *RateLimiter
	limit  int
	window time.Duration
}

// NewUserActionLimiter allows limit actions per window; limit <= 0 allows everything.
func NewUserActionLimiter(client RedisClient, limit int, window time.Duration) *UserActionLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &UserActionLimiter{rl: NewRateLimiter(client), limit: limit, window: window}
}

func (l *UserActionLimiter) Allow(ctx context.Context, userID, action string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	return l.rl.Allow(ctx, UserActionKey(userID, action), l.limit, l.window)
}
