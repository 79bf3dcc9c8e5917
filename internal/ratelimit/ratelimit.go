// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package ratelimit implements fixed-window request limiting keyed by an
// arbitrary string such as a client address.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Driver names.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverOff    = "off"
)

// Defaults.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config selects and configures a limiter.
type Config struct {
	Driver   string        `koanf:"driver"`
	RedisURL string        `koanf:"redis_url"`
	Limit    int           `koanf:"limit"`
	Window   time.Duration `koanf:"window"`
}

// New builds the limiter selected by cfg.Driver. The returned close function
// releases driver resources and is never nil.
func New(cfg Config) (Limiter, func() error, error) {
	noop := func() error { return nil }
	limit, window := cfg.Limit, cfg.Window
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryLimiter(limit, window), noop, nil
	case DriverOff:
		return Unlimited{}, noop, nil
	case DriverRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, oops.Code("RATELIMIT_CONFIG_INVALID").
				With("operation", "parse redis url").
				Wrap(err)
		}
		client := redis.NewClient(opts)
		return NewRedisLimiter(client, limit, window), client.Close, nil
	default:
		return nil, noop, oops.Code("RATELIMIT_UNKNOWN_DRIVER").
			With("driver", cfg.Driver).
			Errorf("unknown rate limit driver %q", cfg.Driver)
	}
}

// Unlimited allows every request.
type Unlimited struct{}

// Allow always allows.
func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func decide(count int64, limit int, ttl time.Duration) Decision {
	d := Decision{Limit: limit, Allowed: count <= int64(limit)}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}
