// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package config loads authd settings from defaults, an optional YAML file,
// the environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/httpapi"
	"github.com/oruchinenye/authd/internal/logging"
	"github.com/oruchinenye/authd/internal/mail"
	"github.com/oruchinenye/authd/internal/ratelimit"
)

// EnvPrefix prefixes every authd environment variable. Nested keys use a
// double underscore, e.g. AUTHD_SESSION__SECRET.
const EnvPrefix = "AUTHD_"

// Storage drivers.
const (
	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"
)

// legacyEnv maps the environment variables of earlier deployments to keys.
var legacyEnv = map[string]string{
	"PORT":         "server.addr",
	"JWT_SECRET":   "session.secret",
	"DATABASE_URL": "database.url",
}

// Config is the complete authd configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Database  DatabaseConfig   `koanf:"database"`
	Session   SessionConfig    `koanf:"session"`
	Reset     ResetConfig      `koanf:"reset"`
	Password  PasswordConfig   `koanf:"password"`
	Mail      mail.Config      `koanf:"mail"`
	RateLimit ratelimit.Config `koanf:"ratelimit"`
	Log       LogConfig        `koanf:"log"`
	Metrics   MetricsConfig    `koanf:"metrics"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// TrustedProxies are the reverse proxies allowed to set X-Forwarded-For.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	Driver         string `koanf:"driver"`
	URL            string `koanf:"url"`
	MaxConns       int32  `koanf:"max_conns"`
	ConnectRetries uint64 `koanf:"connect_retries"`
	AutoMigrate    bool   `koanf:"auto_migrate"`
}

// SessionConfig configures bearer token signing.
type SessionConfig struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
	Issuer string        `koanf:"issuer"`
}

// ResetConfig configures password reset tokens.
type ResetConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// PasswordConfig selects the password hashing algorithm.
type PasswordConfig struct {
	Algorithm  string `koanf:"algorithm"`
	BcryptCost int    `koanf:"bcrypt_cost"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         DatabasePostgres,
			MaxConns:       10,
			ConnectRetries: 5,
			AutoMigrate:    true,
		},
		Session: SessionConfig{
			TTL:    auth.DefaultSessionTTL,
			Issuer: auth.DefaultSessionIssuer,
		},
		Reset: ResetConfig{
			TTL:           auth.DefaultResetTokenTTL,
			PurgeInterval: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Algorithm: auth.AlgorithmArgon2id,
		},
		Mail: mail.Config{
			Driver: mail.DriverLog,
			From:   "authd <no-reply@localhost>",
		},
		RateLimit: ratelimit.Config{
			Driver: ratelimit.DriverMemory,
			Limit:  ratelimit.DefaultLimit,
			Window: ratelimit.DefaultWindow,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
	}
}

// LoadDotenv loads variables from the given .env files without overriding
// variables already set. Missing files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return oops.Code("CONFIG_DOTENV_FAILED").With("path", p).Wrap(err)
		}
	}
	return nil
}

// Load builds the configuration. path names an optional YAML file; flags may
// be nil. Only flags set on the command line override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "legacy env").Wrap(err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

func legacyValue(name, value string) (string, any) {
	key, ok := legacyEnv[name]
	if !ok || value == "" {
		return "", nil
	}
	if name == "PORT" && !strings.Contains(value, ":") {
		value = ":" + value
	}
	return key, value
}

func prefixedValue(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	switch key {
	case "server.cors_origins", "server.trusted_proxies":
		return key, splitList(value)
	}
	return key, value
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"addr":            "server.addr",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"metrics-addr":    "metrics.addr",
	"mail-driver":     "mail.driver",
	"ratelimit":       "ratelimit.driver",
}

// flagValue maps changed flags listed in FlagKeys onto their keys.
func flagValue(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := FlagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		add("server timeouts must be positive")
	}
	if _, err := httpapi.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		add("server.trusted_proxies entries must be IP addresses or CIDR prefixes")
	}

	switch c.Database.Driver {
	case DatabasePostgres:
		if c.Database.URL == "" {
			add("database.url is required for the postgres driver (AUTHD_DATABASE__URL or DATABASE_URL)")
		}
	case DatabaseMemory:
	default:
		add("database.driver must be postgres or memory")
	}

	if c.Session.Secret == "" {
		add("session.secret is required (AUTHD_SESSION__SECRET or JWT_SECRET)")
	}
	if c.Session.TTL <= 0 {
		add("session.ttl must be positive")
	}
	if c.Reset.TTL <= 0 {
		add("reset.ttl must be positive")
	}
	if c.Reset.PurgeInterval < 0 {
		add("reset.purge_interval must not be negative")
	}

	switch c.Password.Algorithm {
	case auth.AlgorithmArgon2id, auth.AlgorithmBcrypt:
	default:
		add("password.algorithm must be argon2id or bcrypt")
	}

	switch c.Mail.Driver {
	case mail.DriverLog, mail.DriverSES:
	case mail.DriverSMTP:
		if c.Mail.SMTP.Host == "" {
			add("mail.smtp.host is required for the smtp driver")
		}
	default:
		add("mail.driver must be log, smtp or ses")
	}

	switch c.RateLimit.Driver {
	case ratelimit.DriverMemory, ratelimit.DriverOff:
	case ratelimit.DriverRedis:
		if c.RateLimit.RedisURL == "" {
			add("ratelimit.redis_url is required for the redis driver")
		}
	default:
		add("ratelimit.driver must be memory, redis or off")
	}

	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		add("log.format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level must be debug, info, warn or error")
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// LogValue keeps secrets out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr),
		slog.Any("trusted_proxies", c.Server.TrustedProxies),
		slog.String("database_driver", c.Database.Driver),
		slog.Bool("auto_migrate", c.Database.AutoMigrate),
		slog.String("mail_driver", c.Mail.Driver),
		slog.String("ratelimit_driver", c.RateLimit.Driver),
		slog.String("password_algorithm", c.Password.Algorithm),
		slog.Duration("session_ttl", c.Session.TTL),
		slog.Duration("reset_ttl", c.Reset.TTL),
		slog.String("metrics_addr", c.Metrics.Addr),
	)
}
