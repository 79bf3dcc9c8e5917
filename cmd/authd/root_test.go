// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oruchinenye/authd/pkg/errutil"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "version"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := NewServeCmd()

	tests := []struct {
		name     string
		defValue string
	}{
		{"addr", ":3000"},
		{"database-driver", "postgres"},
		{"database-url", ""},
		{"auto-migrate", "true"},
		{"log-level", "info"},
		{"log-format", "json"},
		{"metrics-addr", "127.0.0.1:9100"},
		{"mail-driver", "log"},
		{"ratelimit", "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := cmd.Flags().Lookup(tt.name)
			require.NotNil(t, f, "flag %s should exist", tt.name)
			assert.Equal(t, tt.defValue, f.DefValue)
		})
	}
}

func TestServeCmd_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTHD_SESSION__SECRET", "")

	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"serve", "--env-file", t.TempDir() + "/missing.env",
		"--database-driver", "memory", "--metrics-addr", "", "--addr", "127.0.0.1:0"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Contains(t, err.Error(), "session.secret is required")
}

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "authd "+version)
	assert.Contains(t, out.String(), "commit: "+commit)
}
