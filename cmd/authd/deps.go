// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/config"
	"github.com/oruchinenye/authd/internal/mail"
	"github.com/oruchinenye/authd/internal/observability"
	"github.com/oruchinenye/authd/internal/ratelimit"
	"github.com/oruchinenye/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the credential store.
	// Default: openBackend (memory or postgres)
	BackendFactory func(ctx context.Context, cfg config.DatabaseConfig, m MigratorFactory) (*Backend, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory MigratorFactory

	// MailerFactory builds the outgoing mail sender.
	// Default: mail.New
	MailerFactory func(ctx context.Context, cfg mail.Config, logger *slog.Logger) (mail.Sender, error)

	// LimiterFactory builds the request rate limiter.
	// Default: ratelimit.New
	LimiterFactory func(cfg ratelimit.Config) (ratelimit.Limiter, func() error, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// LogOutput receives the process log.
	// Default: os.Stderr
	LogOutput io.Writer
}

// MigratorFactory creates a SchemaMigrator for a database URL.
type MigratorFactory func(databaseURL string) (SchemaMigrator, error)

// SchemaMigrator wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Backend is an opened credential store.
type Backend struct {
	Users  auth.UserRepository
	Resets auth.ResetTokenRepository
	Tx     auth.Transactor
	Ready  observability.ReadinessChecker
	Close  func()
}

func newStoreMigrator(databaseURL string) (SchemaMigrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded by store
	}
	return m, nil
}
