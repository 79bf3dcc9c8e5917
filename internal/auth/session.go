// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token defaults.
const (
	DefaultSessionTTL    = time.Hour
	DefaultSessionIssuer = "authd"
)

// Identity is the verified content of a session token.
type Identity struct {
	UserID    ulid.ULID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithSessionTTL overrides the token lifetime.
func WithSessionTTL(ttl time.Duration) TokenOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuer overrides the "iss" claim written and required.
func WithIssuer(issuer string) TokenOption {
	return func(i *TokenIssuer) {
		if issuer != "" {
			i.issuer = issuer
		}
	}
}

// WithTokenClock overrides the time source used for issuing and verifying.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(i *TokenIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewTokenIssuer creates a TokenIssuer signing with secret.
func NewTokenIssuer(secret []byte, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, oops.Code("SESSION_SECRET_MISSING").Wrap(ErrMissingSecret)
	}
	i := &TokenIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultSessionTTL,
		issuer: DefaultSessionIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for the user expiring TTL after now.
func (i *TokenIssuer) Issue(userID ulid.ULID, email string) (string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("SESSION_ISSUE_FAILED").Errorf("user ID cannot be zero")
	}
	now := i.now()
	claims := SessionClaims{
		UserID: userID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return token, nil
}

// Verify validates the token signature, structure, issuer and expiry.
// Returns an error matching ErrTokenExpired or ErrTokenInvalid on failure.
func (i *TokenIssuer) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, oops.Code(CodeTokenMissing).Public("No token provided").Wrap(ErrTokenMissing)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).Public("Token has expired").Wrap(ErrTokenExpired)
		}
		return nil, oops.Code(CodeTokenInvalid).
			Public("Failed to authenticate token").
			With("reason", err.Error()).
			Wrap(ErrTokenInvalid)
	}

	userID, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, oops.Code(CodeTokenInvalid).
			Public("Failed to authenticate token").
			With("reason", "malformed userId claim").
			Wrap(ErrTokenInvalid)
	}

	identity := &Identity{
		UserID:    userID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	return identity, nil
}
