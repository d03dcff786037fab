package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Limiter. Each key holds the expiry times of its
// live hits.
type Memory struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// NewMemoryWithClock is used by tests to control time.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	m.now = now
	return m
}

// live drops expired hits for key. Caller holds mu.
func (m *Memory) live(key string, now time.Time) []time.Time {
	hits := m.hits[key]
	i := 0
	for _, exp := range hits {
		if exp.After(now) {
			hits[i] = exp
			i++
		}
	}
	hits = hits[:i]
	if len(hits) == 0 {
		delete(m.hits, key)
		return nil
	}
	m.hits[key] = hits
	return hits
}

func (m *Memory) Attempts(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live(key, m.now())), nil
}

func (m *Memory) Hit(_ context.Context, key string, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.hits[key] = append(m.live(key, now), now.Add(window))
	return nil
}

func (m *Memory) HitIfUnder(_ context.Context, key string, window time.Duration, max int) (bool, error) {
	return m.Allow(key, max, window), nil
}

func (m *Memory) SecondsUntilReset(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	hits := m.live(key, now)
	if len(hits) == 0 {
		return 0, nil
	}
	oldest := hits[0]
	for _, exp := range hits[1:] {
		if exp.Before(oldest) {
			oldest = exp
		}
	}
	return ceilSeconds(oldest.Sub(now)), nil
}

// Allow records a hit and returns true if key has fewer than limit live hits.
// A refused request is not recorded.
func (m *Memory) Allow(key string, limit int, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	hits := m.live(key, now)
	if len(hits) >= limit {
		return false
	}
	m.hits[key] = append(hits, now.Add(window))
	return true
}

// Cleanup removes expired entries.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key := range m.hits {
		m.live(key, now)
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (m *Memory) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}
