// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const redisKeyPrefix = "authd:ratelimit:"

// RedisLimiter keeps fixed windows in Redis so replicas share counts.
// Requires Redis 7 for EXPIRE NX.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit requests per key in each window.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow records one request for key. The window starts with the first
// request; later requests do not extend it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := redisKeyPrefix + key

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_BACKEND_FAILED").
			With("operation", "incr window").
			Wrap(err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = l.window
	}
	return decide(incr.Val(), l.limit, ttl), nil
}
