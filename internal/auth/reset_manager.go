// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetTokenManager issues and redeems single-use password reset tokens.
type ResetTokenManager struct {
	repo ResetTokenRepository
	ttl  time.Duration
	now  func() time.Time
}

// ResetOption configures a ResetTokenManager.
type ResetOption func(*ResetTokenManager)

// WithResetTTL overrides how long issued tokens stay redeemable.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(m *ResetTokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithResetClock overrides the time source.
func WithResetClock(now func() time.Time) ResetOption {
	return func(m *ResetTokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewResetTokenManager creates a ResetTokenManager backed by repo.
func NewResetTokenManager(repo ResetTokenRepository, opts ...ResetOption) (*ResetTokenManager, error) {
	if repo == nil {
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("reset token repository is required")
	}
	m := &ResetTokenManager{
		repo: repo,
		ttl:  DefaultResetTokenTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the lifetime of issued tokens.
func (m *ResetTokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue revokes the user's outstanding tokens and stores a new one.
// The returned plaintext value is meant for out-of-band delivery only.
func (m *ResetTokenManager) Issue(ctx context.Context, userID ulid.ULID) (string, error) {
	if err := m.repo.DeleteByUser(ctx, userID); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "revoke previous tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	now := m.now()
	reset, err := NewResetToken(userID, hash, now, now.Add(m.ttl))
	if err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "new reset token").
			Wrap(err)
	}

	if err := m.repo.Create(ctx, reset); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "persist token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	return token, nil
}

// Redeem consumes the token and returns its owner. Unknown, expired and
// already-redeemed tokens all fail with ErrInvalidResetToken.
func (m *ResetTokenManager) Redeem(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, invalidResetToken()
	}

	userID, err := m.repo.Consume(ctx, HashResetToken(token), m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, invalidResetToken()
		}
		return ulid.ULID{}, oops.Code("RESET_REDEEM_FAILED").
			With("operation", "consume token").
			Wrap(err)
	}
	return userID, nil
}

// Revoke deletes every token owned by the user.
func (m *ResetTokenManager) Revoke(ctx context.Context, userID ulid.ULID) error {
	if err := m.repo.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("RESET_REVOKE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// PurgeExpired deletes tokens that can no longer be redeemed.
func (m *ResetTokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func invalidResetToken() error {
	return oops.Code(CodeInvalidResetToken).
		Public("Invalid or expired password reset token").
		Wrap(ErrInvalidResetToken)
}
