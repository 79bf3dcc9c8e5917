// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/config"
	"github.com/oruchinenye/authd/internal/observability"
	"github.com/oruchinenye/authd/internal/store"
	"github.com/oruchinenye/authd/pkg/errutil"
)

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// logLine returns the first JSON log record with the given message.
func (b *syncBuffer) logLine(msg string) map[string]any {
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		var rec map[string]any
		if json.Unmarshal(sc.Bytes(), &rec) == nil && rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopped   atomic.Bool
	metrics   *observability.Metrics
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	return make(chan error, 1), nil
}

func (m *mockObservabilityServer) Stop(context.Context) error {
	m.stopped.Store(true)
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:9100" }

func (m *mockObservabilityServer) Metrics() *observability.Metrics { return m.metrics }

// fakeMigrator implements SchemaMigrator for testing.
type fakeMigrator struct {
	upErr    error
	status   *store.Status
	calls    []string
	closed   bool
	forced   int
	steps    int
	closeErr error
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *fakeMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return nil
}

func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return nil
}

func (m *fakeMigrator) Status() (*store.Status, error) {
	m.calls = append(m.calls, "status")
	if m.status == nil {
		return &store.Status{}, nil
	}
	return m.status, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return m.closeErr
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Database.Driver = config.DatabaseMemory
	cfg.Session.Secret = "test-secret"
	cfg.Password.Algorithm = auth.AlgorithmBcrypt
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Metrics.Addr = ""
	return cfg
}

func startServe(t *testing.T, cfg *config.Config, deps *ServeDeps) (context.CancelFunc, <-chan error, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.LogOutput = logs

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServeWithDeps(ctx, cfg, deps)
	}()
	t.Cleanup(cancel)
	return cancel, errCh, logs
}

func waitForExit(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("runServeWithDeps did not return within timeout")
		return nil
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestRunServeWithDeps_MissingSecretIsFatal(t *testing.T) {
	cfg := memoryConfig()
	cfg.Session.Secret = ""

	err := runServeWithDeps(context.Background(), cfg, &ServeDeps{LogOutput: &syncBuffer{}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Contains(t, err.Error(), "session.secret is required")
}

func TestRunServeWithDeps_MemoryEndToEnd(t *testing.T) {
	cfg := memoryConfig()
	cancel, errCh, logs := startServe(t, cfg, nil)

	var addr string
	require.Eventually(t, func() bool {
		rec := logs.logLine("authd started")
		if rec == nil {
			return false
		}
		addr, _ = rec["addr"].(string)
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond)

	base := "http://" + addr
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}

	resp := postJSON(t, client, base+"/auth/register", map[string]string{
		"fullName": "Ada Lovelace",
		"email":    "ada@example.com",
		"password": "analytical-engine",
	})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, client, base+"/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": "analytical-engine",
	})
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, login.Token)

	req, err := http.NewRequest(http.MethodGet, base+"/user/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	var profile map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"fullName": "Ada Lovelace", "email": "ada@example.com"}, profile)

	cancel()
	require.NoError(t, waitForExit(t, errCh))
	assert.NotNil(t, logs.logLine("shutdown complete"))
	assert.NotContains(t, logs.String(), "test-secret")
}

func TestRunServeWithDeps_BackendError(t *testing.T) {
	cfg := memoryConfig()
	deps := &ServeDeps{
		LogOutput: &syncBuffer{},
		BackendFactory: func(context.Context, config.DatabaseConfig, MigratorFactory) (*Backend, error) {
			return nil, errors.New("connection refused")
		},
	}

	err := runServeWithDeps(context.Background(), cfg, deps)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVE_STORE_FAILED")
}

func TestRunServeWithDeps_ObservabilityStartError(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	deps := &ServeDeps{
		LogOutput: &syncBuffer{},
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return &mockObservabilityServer{startFunc: func() (<-chan error, error) {
				return nil, errors.New("address in use")
			}}
		},
	}

	err := runServeWithDeps(context.Background(), cfg, deps)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_START_FAILED")
}

func TestRunServeWithDeps_ServerErrorTriggersShutdown(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"

	obsErrCh := make(chan error, 1)
	obs := &mockObservabilityServer{
		startFunc: func() (<-chan error, error) { return obsErrCh, nil },
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}
	_, errCh, logs := startServe(t, cfg, &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return obs
		},
	})

	require.Eventually(t, func() bool { return logs.logLine("authd started") != nil },
		5*time.Second, 10*time.Millisecond)
	obsErrCh <- errors.New("metrics listener died")

	require.NoError(t, waitForExit(t, errCh))
	assert.True(t, obs.stopped.Load())
	rec := logs.logLine("server error, triggering shutdown")
	require.NotNil(t, rec)
	assert.Equal(t, "observability", rec["server"])
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := openBackend(ctx, config.DatabaseConfig{Driver: config.DatabaseMemory}, nil)
		require.NoError(t, err)
		assert.NotNil(t, b.Users)
		assert.NotNil(t, b.Resets)
		assert.NotNil(t, b.Tx)
		assert.Nil(t, b.Ready)
		b.Close()
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := openBackend(ctx, config.DatabaseConfig{Driver: "sqlite"}, nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("auto-migrate failure stops startup", func(t *testing.T) {
		m := &fakeMigrator{upErr: errors.New("dirty database")}
		var gotURL string
		_, err := openBackend(ctx, config.DatabaseConfig{
			Driver:      config.DatabasePostgres,
			URL:         "postgres://authd@localhost/authd",
			AutoMigrate: true,
		}, func(url string) (SchemaMigrator, error) {
			gotURL = url
			return m, nil
		})
		require.Error(t, err)
		assert.Equal(t, "postgres://authd@localhost/authd", gotURL)
		assert.Equal(t, []string{"up"}, m.calls)
		assert.True(t, m.closed)
	})

	t.Run("migrator creation failure", func(t *testing.T) {
		_, err := openBackend(ctx, config.DatabaseConfig{
			Driver:      config.DatabasePostgres,
			URL:         "postgres://authd@localhost/authd",
			AutoMigrate: true,
		}, func(string) (SchemaMigrator, error) {
			return nil, errors.New("bad url")
		})
		require.Error(t, err)
	})
}

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpiredResetTokens(context.Context) (int64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return 2, nil
}

func TestRunPurgeLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := slog.New(slog.NewTextHandler(&syncBuffer{}, nil))

	t.Run("purges on every tick and counts tokens", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		purger := &countingPurger{}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runPurgeLoop(ctx, purger, 5*time.Millisecond, metrics, logger)
			close(done)
		}()

		require.Eventually(t, func() bool { return purger.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
		cancel()
		<-done
		assert.Equal(t, float64(2*purger.calls.Load()), testutil.ToFloat64(metrics.ResetTokensPurged))
	})

	t.Run("errors are logged and the loop continues", func(t *testing.T) {
		purger := &countingPurger{err: errors.New("db down")}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runPurgeLoop(ctx, purger, 5*time.Millisecond, nil, logger)
			close(done)
		}()

		require.Eventually(t, func() bool { return purger.calls.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("non-positive interval disables the loop", func(t *testing.T) {
		purger := &countingPurger{}
		runPurgeLoop(context.Background(), purger, 0, nil, logger)
		assert.Zero(t, purger.calls.Load())
	})
}

func TestMonitorServerErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&syncBuffer{}, nil))

	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errCh, "http", logger)
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "http", logger)
		assert.NoError(t, ctx.Err())
	})

	t.Run("returns when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		monitorServerErrors(ctx, cancel, make(chan error), "http", logger)
	})
}
