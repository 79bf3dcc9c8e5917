// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oruchinenye/authd/pkg/errutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    any
		errCode string
	}{
		{"memory default", Config{}, &MemoryLimiter{}, ""},
		{"off", Config{Driver: DriverOff}, Unlimited{}, ""},
		{"redis", Config{Driver: DriverRedis, RedisURL: "redis://localhost:6379/0"}, &RedisLimiter{}, ""},
		{"bad redis url", Config{Driver: DriverRedis, RedisURL: "http://nope"}, nil, "RATELIMIT_CONFIG_INVALID"},
		{"unknown", Config{Driver: "leaky-bucket"}, nil, "RATELIMIT_UNKNOWN_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, closeFn, err := New(tt.cfg)
			require.NotNil(t, closeFn)
			if tt.errCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.errCode)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
			assert.NoError(t, closeFn())
		})
	}

	t.Run("applies defaults", func(t *testing.T) {
		l, _, err := New(Config{Driver: DriverMemory})
		require.NoError(t, err)
		m := l.(*MemoryLimiter)
		assert.Equal(t, DefaultLimit, m.limit)
		assert.Equal(t, DefaultWindow, m.window)
	})
}

func TestMemoryLimiter_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	for i := range 3 {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}

	now = now.Add(20 * time.Second)
	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	t.Run("keys are independent", func(t *testing.T) {
		d, err := l.Allow(ctx, "10.0.0.2")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("window resets", func(t *testing.T) {
		now = now.Add(40 * time.Second)
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2, d.Remaining)
	})
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, time.Second)
	l.now = func() time.Time { return now }

	for i := range sweepEvery - 1 {
		_, err := l.Allow(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, sweepEvery-1, l.Len())

	now = now.Add(2 * time.Second)
	_, err := l.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(50, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "shared")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestUnlimited(t *testing.T) {
	d, err := Unlimited{}.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
