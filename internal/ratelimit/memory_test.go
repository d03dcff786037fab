package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryWithClock(clock.Now), clock
}

func TestKey(t *testing.T) {
	if got := Key("generate", 7); got != "generate:7" {
		t.Errorf("Key() = %q, want %q", got, "generate:7")
	}
}

func TestMemoryAttemptsAndHit(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := m.Hit(ctx, "generate:1", time.Hour); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}

	n, err := m.Attempts(ctx, "generate:1")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 5 {
		t.Errorf("attempts = %d, want 5", n)
	}

	tooMany, _ := TooManyAttempts(ctx, m, "generate:1", 5)
	if !tooMany {
		t.Error("expected 5 attempts to be too many for max 5")
	}

	// Keys are independent.
	if n, _ := m.Attempts(ctx, "regenerate:1"); n != 0 {
		t.Errorf("regenerate attempts = %d, want 0", n)
	}
}

func TestMemoryRollingWindow(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	m.Hit(ctx, "k", time.Hour)
	clock.Advance(20 * time.Minute)
	m.Hit(ctx, "k", time.Hour)

	secs, err := m.SecondsUntilReset(ctx, "k")
	if err != nil {
		t.Fatalf("seconds until reset: %v", err)
	}
	if secs != 40*60 {
		t.Errorf("seconds = %d, want %d", secs, 40*60)
	}

	// The first hit ages out; the second is still live.
	clock.Advance(41 * time.Minute)
	if n, _ := m.Attempts(ctx, "k"); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	if secs, _ := m.SecondsUntilReset(ctx, "k"); secs != 19*60 {
		t.Errorf("seconds = %d, want %d", secs, 19*60)
	}

	clock.Advance(20 * time.Minute)
	if n, _ := m.Attempts(ctx, "k"); n != 0 {
		t.Errorf("attempts = %d, want 0", n)
	}
	if secs, _ := m.SecondsUntilReset(ctx, "k"); secs != 0 {
		t.Errorf("seconds = %d, want 0", secs)
	}
}

func TestMemorySecondsRoundUp(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	m.Hit(ctx, "k", time.Minute)
	clock.Advance(500 * time.Millisecond)

	if secs, _ := m.SecondsUntilReset(ctx, "k"); secs != 60 {
		t.Errorf("seconds = %d, want 60", secs)
	}
}

func TestMemoryAllow(t *testing.T) {
	m, clock := newTestMemory()

	for i := 0; i < 5; i++ {
		if !m.Allow("key", 5, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if m.Allow("key", 5, time.Minute) {
		t.Error("6th request should be denied")
	}

	clock.Advance(time.Minute + time.Second)
	if !m.Allow("key", 5, time.Minute) {
		t.Error("should be allowed after window expires")
	}
}

func TestMemoryHitIfUnderConcurrent(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.HitIfUnder(ctx, "generate:1", time.Hour, 5)
			if err != nil {
				t.Errorf("hit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if recorded != 5 {
		t.Errorf("recorded = %d, want 5", recorded)
	}
	if n, _ := m.Attempts(ctx, "generate:1"); n != 5 {
		t.Errorf("attempts = %d, want 5", n)
	}
}

func TestMemoryCleanup(t *testing.T) {
	m, clock := newTestMemory()

	m.Allow("expired", 5, time.Second)
	m.Allow("active", 5, time.Hour)
	clock.Advance(2 * time.Second)

	m.Cleanup()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hits["expired"]; ok {
		t.Error("expired entry should be cleaned up")
	}
	if _, ok := m.hits["active"]; !ok {
		t.Error("active entry should remain")
	}
}
