// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between removals of stale windows.
const sweepEvery = 1024

type bucket struct {
	count int64
	reset time.Time
}

// MemoryLimiter keeps fixed windows in process memory. Counts are not shared
// between replicas.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
	calls   int
	now     func() time.Time
}

// NewMemoryLimiter allows limit requests per key in each window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records one request for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	w, ok := l.buckets[key]
	if !ok || !now.Before(w.reset) {
		w = &bucket{reset: now.Add(l.window)}
		l.buckets[key] = w
	}
	w.count++
	return decide(w.count, l.limit, w.reset.Sub(now)), nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.buckets {
		if !now.Before(w.reset) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
