// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(newStoreMigrator)
}

func newMigrateCmd(newMigrator MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long:  "Apply, roll back or inspect schema migrations for the credential store.",
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (defaults to configuration)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, newMigrator, func(m SchemaMigrator) error {
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("Migrations applied.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all accounts)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, newMigrator, func(m SchemaMigrator) error {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("Migrations rolled back.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "steps <n>",
		Short: "Apply n migrations, or roll back when n is negative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseStepCount(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, newMigrator, func(m SchemaMigrator) error {
				if err := m.Steps(n); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Printf("Applied %d step(s).\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long: `Set the schema version without running migrations and clear the dirty flag.
Use after fixing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, newMigrator, func(m SchemaMigrator) error {
				if err := m.Force(v); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Printf("Forced schema version to %d.\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, newMigrator, func(m SchemaMigrator) error {
				st, err := m.Status()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				if st.Version == 0 && !st.Dirty {
					cmd.Println("Schema version: none")
				} else {
					cmd.Printf("Schema version: %d", st.Version)
					if st.Dirty {
						cmd.Print(" (dirty)")
					}
					cmd.Println()
				}
				for _, mig := range st.Applied {
					cmd.Printf("  [x] %06d %s\n", mig.Version, mig.Name)
				}
				for _, mig := range st.Pending {
					cmd.Printf("  [ ] %06d %s\n", mig.Version, mig.Name)
				}
				return nil
			})
		},
	})

	return cmd
}

// withMigrator resolves the database URL, opens a migrator and closes it
// after fn.
func withMigrator(cmd *cobra.Command, newMigrator MigratorFactory, fn func(SchemaMigrator) error) (err error) {
	url, err := databaseURL(cmd)
	if err != nil {
		return err
	}
	m, err := newMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// databaseURL reads the database URL from configuration, with --database-url
// taking precedence.
func databaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("database url is required (--database-url, AUTHD_DATABASE__URL or DATABASE_URL)")
	}
	return cfg.Database.URL, nil
}

// parseForceVersion parses a schema version for migrate force. Negative
// versions are rejected by the migrator.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").
			With("version", s).
			Errorf("invalid version %q: must be an integer", s)
	}
	return v, nil
}

func parseStepCount(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err != nil || n == 0 {
		return 0, oops.Code("INVALID_STEPS").
			With("steps", s).
			Errorf("invalid step count %q: must be a non-zero integer", s)
	}
	return n, nil
}
