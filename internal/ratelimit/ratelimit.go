// Package ratelimit counts attempts per key over a rolling window.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter records attempts under a key and reports how many are still inside
// their window. Each hit ages out on its own, so the window rolls.
type Limiter interface {
	Attempts(ctx context.Context, key string) (int, error)
	Hit(ctx context.Context, key string, window time.Duration) error
	// HitIfUnder records a hit only while key has fewer than max live hits,
	// checking and recording in one step. It reports whether the hit was
	// recorded.
	HitIfUnder(ctx context.Context, key string, window time.Duration, max int) (bool, error)
	SecondsUntilReset(ctx context.Context, key string) (int, error)
}

// Key namespaces a limiter key by action and user.
func Key(action string, userID int64) string {
	return fmt.Sprintf("%s:%d", action, userID)
}

// TooManyAttempts reports whether key has reached max attempts.
func TooManyAttempts(ctx context.Context, l Limiter, key string, max int) (bool, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return n >= max, nil
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
