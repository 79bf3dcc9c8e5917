// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/auth/memory"
	"github.com/oruchinenye/authd/internal/auth/postgres"
	"github.com/oruchinenye/authd/internal/config"
	"github.com/oruchinenye/authd/internal/httpapi"
	"github.com/oruchinenye/authd/internal/logging"
	"github.com/oruchinenye/authd/internal/mail"
	"github.com/oruchinenye/authd/internal/observability"
	"github.com/oruchinenye/authd/internal/ratelimit"
	"github.com/oruchinenye/authd/internal/store"
	"github.com/oruchinenye/authd/pkg/errutil"
)

const readinessTimeout = 2 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the auth API server.

Settings come from defaults, the --config file, AUTHD_* environment
variables (PORT, JWT_SECRET and DATABASE_URL are also honored) and the
flags below, in increasing order of precedence. A session secret is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, nil)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.String("addr", defaults.Server.Addr, "API listen address")
	flags.String("database-driver", defaults.Database.Driver, "credential store (postgres, memory)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("auto-migrate", defaults.Database.AutoMigrate, "apply pending migrations on startup")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, text)")
	flags.String("metrics-addr", defaults.Metrics.Addr, "observability listen address (empty to disable)")
	flags.String("mail-driver", defaults.Mail.Driver, "mail driver (log, smtp, ses)")
	flags.String("ratelimit", defaults.RateLimit.Driver, "rate limiter (memory, redis, off)")

	return cmd
}

// runServeWithDeps runs the server until ctx is cancelled, SIGINT or SIGTERM
// arrives, or a listener fails. A nil deps uses the defaults.
func runServeWithDeps(ctx context.Context, cfg *config.Config, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.BackendFactory == nil {
		deps.BackendFactory = openBackend
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = newStoreMigrator
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = mail.New
	}
	if deps.LimiterFactory == nil {
		deps.LimiterFactory = ratelimit.New
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.LogOutput == nil {
		deps.LogOutput = os.Stderr
	}

	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // CONFIG_INVALID lists every problem
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logger := logging.Setup("authd", version, cfg.Log.Format, level, deps.LogOutput)
	slog.SetDefault(logger)
	logger.Info("starting authd", "version", version, "config", cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend, err := deps.BackendFactory(ctx, cfg.Database, deps.MigratorFactory)
	if err != nil {
		return oops.Code("SERVE_STORE_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
	}
	defer backend.Close()

	svc, err := newAuthService(ctx, cfg, backend, deps, logger)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := deps.LimiterFactory(cfg.RateLimit)
	if err != nil {
		return oops.Code("SERVE_RATELIMIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := closeLimiter(); closeErr != nil {
			errutil.LogError(logger, "failed to close rate limiter", closeErr)
		}
	}()

	routerOpts := httpapi.RouterOptions{
		Service:        svc,
		Limiter:        limiter,
		Logger:         logger,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	}

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	var obsErrCh <-chan error
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, backend.Ready, logger)
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		metrics = obsServer.Metrics()
		routerOpts.Metrics = metrics
	}

	router, err := httpapi.NewRouter(routerOpts)
	if err != nil {
		stopObservability(obsServer, cfg.Server.ShutdownTimeout, logger)
		return err //nolint:wrapcheck // already coded
	}

	apiServer := httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, router, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer, cfg.Server.ShutdownTimeout, logger)
		return oops.Code("SERVE_START_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	go monitorServerErrors(ctx, cancel, apiErrCh, "http", logger)
	if obsErrCh != nil {
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		runPurgeLoop(ctx, svc, cfg.Reset.PurgeInterval, metrics, logger)
	}()

	startAttrs := []any{"addr", apiServer.Addr(), "database", cfg.Database.Driver}
	if obsServer != nil {
		startAttrs = append(startAttrs, "metrics_addr", obsServer.Addr())
	}
	logger.Info("authd started", startAttrs...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	cancel()
	<-purgeDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "failed to stop http server", err)
	}
	stopObservability(obsServer, cfg.Server.ShutdownTimeout, logger)

	logger.Info("shutdown complete")
	return nil
}

// newAuthService wires the hasher, token issuer, reset manager and mailer
// around the opened backend.
func newAuthService(ctx context.Context, cfg *config.Config, backend *Backend, deps *ServeDeps, logger *slog.Logger) (*auth.Service, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Session.Secret),
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithIssuer(cfg.Session.Issuer),
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}

	resets, err := auth.NewResetTokenManager(backend.Resets, auth.WithResetTTL(cfg.Reset.TTL))
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}

	mailer, err := deps.MailerFactory(ctx, cfg.Mail, logger)
	if err != nil {
		return nil, oops.Code("SERVE_MAIL_FAILED").With("driver", cfg.Mail.Driver).Wrap(err)
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:  backend.Users,
		Resets: resets,
		Tokens: tokens,
		Hasher: hasher,
		Mailer: mailer,
		Tx:     backend.Tx,
		Logger: logger,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return svc, nil
}

// openBackend opens the credential store named by cfg.Driver. For postgres it
// applies pending migrations first when AutoMigrate is set.
func openBackend(ctx context.Context, cfg config.DatabaseConfig, newMigrator MigratorFactory) (*Backend, error) {
	switch cfg.Driver {
	case config.DatabaseMemory:
		s := memory.NewStore()
		return &Backend{
			Users:  s,
			Resets: s.ResetTokens(),
			Tx:     s,
			Close:  func() {},
		}, nil
	case config.DatabasePostgres:
		if cfg.AutoMigrate {
			if err := migrateUp(newMigrator, cfg.URL); err != nil {
				return nil, err
			}
		}
		pool, err := store.Open(ctx, cfg.URL, store.Options{
			MaxConns:       cfg.MaxConns,
			ConnectRetries: cfg.ConnectRetries,
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
		return &Backend{
			Users:  postgres.NewUserRepository(pool),
			Resets: postgres.NewResetTokenRepository(pool),
			Tx:     postgres.NewTransactor(pool),
			Ready:  store.Ready(pool, readinessTimeout),
			Close:  pool.Close,
		}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("driver", cfg.Driver).
			Errorf("unknown database driver %q", cfg.Driver)
	}
}

func migrateUp(newMigrator MigratorFactory, databaseURL string) (err error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	return nil
}

// expiredTokenPurger is the part of auth.Service the purge loop uses.
type expiredTokenPurger interface {
	PurgeExpiredResetTokens(ctx context.Context) (int64, error)
}

// runPurgeLoop deletes expired reset tokens every interval until ctx is done.
// A non-positive interval disables it.
func runPurgeLoop(ctx context.Context, svc expiredTokenPurger, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredResetTokens(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errutil.LogErrorContext(ctx, logger, "failed to purge expired reset tokens", err)
				}
				continue
			}
			metrics.AddResetTokensPurged(n)
			if n > 0 {
				logger.Debug("purged expired reset tokens", "count", n)
			}
		}
	}
}

func stopObservability(srv ObservabilityServer, timeout time.Duration, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		errutil.LogError(logger, "failed to stop observability server", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogError(logger, "server error, triggering shutdown", err, "server", serverName)
			cancel()
		}
	case <-ctx.Done():
	}
}
