// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/internal/auth/mocks"
	"github.com/oruchinenye/authd/pkg/errutil"
)

func TestNewResetTokenManager(t *testing.T) {
	t.Run("requires repository", func(t *testing.T) {
		m, err := auth.NewResetTokenManager(nil)
		require.Error(t, err)
		assert.Nil(t, m)
		errutil.AssertErrorCode(t, err, "RESET_MANAGER_INVALID")
	})

	t.Run("defaults to one hour", func(t *testing.T) {
		m, err := auth.NewResetTokenManager(mocks.NewMockResetTokenRepository(t))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, m.TTL())
	})

	t.Run("honors ttl option", func(t *testing.T) {
		m, err := auth.NewResetTokenManager(mocks.NewMockResetTokenRepository(t), auth.WithResetTTL(15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, m.TTL())
	})
}

func TestResetTokenManager_Issue(t *testing.T) {
	ctx := context.Background()
	userID := ulid.Make()
	clock := newClock()

	t.Run("revokes previous tokens and stores the hash", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo, auth.WithResetClock(clock.Now))
		require.NoError(t, err)

		var stored *auth.ResetToken
		deleteCall := repo.On("DeleteByUser", ctx, userID).Return(nil).Once()
		repo.On("Create", ctx, mock.AnythingOfType("*auth.ResetToken")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*auth.ResetToken) }).
			Return(nil).
			Once().
			NotBefore(deleteCall)

		token, err := m.Issue(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, stored)

		assert.Len(t, token, 2*auth.ResetTokenBytes)
		assert.Equal(t, auth.HashResetToken(token), stored.TokenHash)
		assert.NotEqual(t, token, stored.TokenHash)
		assert.Equal(t, userID, stored.UserID)
		assert.True(t, stored.CreatedAt.Equal(clock.Now()))
		assert.True(t, stored.ExpiresAt.Equal(clock.Now().Add(time.Hour)))
	})

	t.Run("revoke failure aborts", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo)
		require.NoError(t, err)

		repo.On("DeleteByUser", ctx, userID).Return(errors.New("db down")).Once()

		_, err = m.Issue(ctx, userID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_ISSUE_FAILED")
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("create failure is wrapped", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo)
		require.NoError(t, err)

		repo.On("DeleteByUser", ctx, userID).Return(nil).Once()
		repo.On("Create", ctx, mock.Anything).Return(errors.New("db down")).Once()

		_, err = m.Issue(ctx, userID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_ISSUE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "persist token")
	})
}

func TestResetTokenManager_Redeem(t *testing.T) {
	ctx := context.Background()
	userID := ulid.Make()
	clock := newClock()

	t.Run("returns owner", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo, auth.WithResetClock(clock.Now))
		require.NoError(t, err)

		repo.On("Consume", ctx, auth.HashResetToken("tok"), clock.Now()).Return(userID, nil).Once()

		got, err := m.Redeem(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	})

	t.Run("empty token never reaches the repository", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo)
		require.NoError(t, err)

		_, err = m.Redeem(ctx, "")
		require.ErrorIs(t, err, auth.ErrInvalidResetToken)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidResetToken)
	})

	t.Run("missing token is invalid", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo, auth.WithResetClock(clock.Now))
		require.NoError(t, err)

		repo.On("Consume", ctx, mock.Anything, mock.Anything).
			Return(ulid.ULID{}, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)).Once()

		_, err = m.Redeem(ctx, "tok")
		require.ErrorIs(t, err, auth.ErrInvalidResetToken)
		assert.Equal(t, "Invalid or expired password reset token", oops.GetPublic(err, ""))
	})

	t.Run("storage failure is not reported as invalid token", func(t *testing.T) {
		repo := mocks.NewMockResetTokenRepository(t)
		m, err := auth.NewResetTokenManager(repo)
		require.NoError(t, err)

		repo.On("Consume", ctx, mock.Anything, mock.Anything).
			Return(ulid.ULID{}, errors.New("connection reset")).Once()

		_, err = m.Redeem(ctx, "tok")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidResetToken)
		errutil.AssertErrorCode(t, err, "RESET_REDEEM_FAILED")
	})
}

func TestResetTokenManager_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	repo := mocks.NewMockResetTokenRepository(t)
	m, err := auth.NewResetTokenManager(repo, auth.WithResetClock(clock.Now))
	require.NoError(t, err)

	repo.On("DeleteExpired", ctx, clock.Now()).Return(int64(3), nil).Once()
	repo.On("DeleteExpired", ctx, clock.Now()).Return(int64(0), errors.New("db down")).Once()

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = m.PurgeExpired(ctx)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "RESET_PURGE_FAILED")
}

func TestResetTokenManager_Revoke(t *testing.T) {
	ctx := context.Background()
	userID := ulid.Make()
	repo := mocks.NewMockResetTokenRepository(t)
	m, err := auth.NewResetTokenManager(repo)
	require.NoError(t, err)

	repo.On("DeleteByUser", ctx, userID).Return(errors.New("db down")).Once()

	err = m.Revoke(ctx, userID)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "RESET_REVOKE_FAILED")
	errutil.AssertErrorContext(t, err, "user_id", userID.String())
}
