// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package store connects to PostgreSQL and manages the auth schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectRetries = 5
	DefaultRetryBase      = 250 * time.Millisecond
)

// Options tune Open. The zero value uses the defaults.
type Options struct {
	MaxConns       int32
	ConnectRetries uint64
	RetryBase      time.Duration
}

// pinger is the part of *pgxpool.Pool Open waits on.
type pinger interface {
	Ping(ctx context.Context) error
}

// Open creates a pgx pool for dsn and waits until the database answers a ping,
// retrying with exponential backoff.
func Open(ctx context.Context, dsn string, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForPing(ctx context.Context, db pinger, opts Options) error {
	retries := opts.ConnectRetries
	if retries == 0 {
		retries = DefaultConnectRetries
	}
	base := opts.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}

	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "database not reachable", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// Ready reports whether db answers a ping within timeout.
func Ready(db pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return db.Ping(ctx) == nil
	}
}
