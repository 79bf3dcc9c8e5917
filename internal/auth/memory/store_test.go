// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/auth/memory"
	"github.com/oruchinenye/authd/pkg/errutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newUser(t *testing.T, email string) *auth.User {
	t.Helper()
	user, err := auth.NewUser("Test User", email, "hash", epoch)
	require.NoError(t, err)
	return user
}

func newReset(t *testing.T, userID ulid.ULID, hash string, ttl time.Duration) *auth.ResetToken {
	t.Helper()
	token, err := auth.NewResetToken(userID, hash, epoch, epoch.Add(ttl))
	require.NoError(t, err)
	return token
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	user := newUser(t, "ada@example.com")
	require.NoError(t, store.Create(ctx, user))

	t.Run("find by id and email", func(t *testing.T) {
		byID, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, byID.Email)

		byEmail, err := store.FindByEmail(ctx, " ADA@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
	})

	t.Run("returned users are copies", func(t *testing.T) {
		got, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		got.PasswordHash = "mutated"

		again, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", again.PasswordHash)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := store.Create(ctx, newUser(t, "Ada@Example.com"))
		require.ErrorIs(t, err, auth.ErrDuplicateEmail)
		errutil.AssertErrorCode(t, err, "USER_EMAIL_TAKEN")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.FindByID(ctx, ulid.Make())
		require.ErrorIs(t, err, auth.ErrNotFound)
		_, err = store.FindByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, auth.ErrNotFound)
		err = store.UpdatePasswordHash(ctx, ulid.Make(), "x")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("update password hash", func(t *testing.T) {
		require.NoError(t, store.UpdatePasswordHash(ctx, user.ID, "new-hash"))
		got, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.FindByID(cctx, user.ID)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestResets_Consume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resets := store.ResetTokens()
	user := newUser(t, "ada@example.com")
	require.NoError(t, store.Create(ctx, user))
	require.NoError(t, resets.Create(ctx, newReset(t, user.ID, "live", time.Hour)))
	require.NoError(t, resets.Create(ctx, newReset(t, user.ID, "stale", time.Minute)))

	t.Run("expired token is not consumed", func(t *testing.T) {
		_, err := resets.Consume(ctx, "stale", epoch.Add(time.Minute))
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("live token is consumed once", func(t *testing.T) {
		got, err := resets.Consume(ctx, "live", epoch.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, user.ID, got)

		_, err = resets.Consume(ctx, "live", epoch.Add(30*time.Minute))
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("create requires an existing user", func(t *testing.T) {
		err := resets.Create(ctx, newReset(t, ulid.Make(), "orphan", time.Hour))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_CREATE_FAILED")
	})
}

func TestResets_Delete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resets := store.ResetTokens()
	ada := newUser(t, "ada@example.com")
	bob := newUser(t, "bob@example.com")
	require.NoError(t, store.Create(ctx, ada))
	require.NoError(t, store.Create(ctx, bob))

	require.NoError(t, resets.Create(ctx, newReset(t, ada.ID, "a1", time.Hour)))
	require.NoError(t, resets.Create(ctx, newReset(t, ada.ID, "a2", time.Minute)))
	require.NoError(t, resets.Create(ctx, newReset(t, bob.ID, "b1", time.Minute)))

	n, err := resets.DeleteExpired(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, resets.Len())

	require.NoError(t, resets.DeleteByUser(ctx, ada.ID))
	assert.Zero(t, resets.Len())
	require.NoError(t, resets.DeleteByUser(ctx, bob.ID))
}

func TestStore_WithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit keeps writes", func(t *testing.T) {
		store := memory.NewStore()
		err := store.WithinTx(ctx, func(ctx context.Context) error {
			return store.Create(ctx, newUser(t, "ada@example.com"))
		})
		require.NoError(t, err)
		assert.Equal(t, 1, store.Users())
	})

	t.Run("failure undoes writes", func(t *testing.T) {
		store := memory.NewStore()
		resets := store.ResetTokens()
		user := newUser(t, "ada@example.com")
		require.NoError(t, store.Create(ctx, user))
		require.NoError(t, resets.Create(ctx, newReset(t, user.ID, "tok", time.Hour)))

		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := resets.Consume(ctx, "tok", epoch); err != nil {
				return err
			}
			if err := store.UpdatePasswordHash(ctx, user.ID, "changed"); err != nil {
				return err
			}
			if err := store.Create(ctx, newUser(t, "bob@example.com")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		assert.Equal(t, 1, store.Users())
		assert.Equal(t, 1, resets.Len())
		got, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", got.PasswordHash)
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		store := memory.NewStore()
		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(ctx context.Context) error {
			inner := store.WithinTx(ctx, func(ctx context.Context) error {
				return store.Create(ctx, newUser(t, "ada@example.com"))
			})
			require.NoError(t, inner)
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Zero(t, store.Users())
	})
}
