// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength is the longest address accepted (RFC 5321 path limit).
const MaxEmailLength = 254

// User represents a registered account.
type User struct {
	ID           ulid.ULID
	FullName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public view of a User.
type Profile struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Profile returns the public fields of the user.
func (u *User) Profile() Profile {
	return Profile{FullName: u.FullName, Email: u.Email}
}

// NewUser creates a User with a fresh ID and normalized email.
// The password hash must already be computed.
func NewUser(fullName, email, passwordHash string, now time.Time) (*User, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, oops.Code("USER_INVALID").Errorf("full name cannot be empty")
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		FullName:     fullName,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address such as "a@example.com".
// Display-name forms like "Alice <a@example.com>" are rejected.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("USER_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email address is invalid")
	}
	return nil
}

// UserRepository manages user persistence.
// Implementations normalize email arguments with NormalizeEmail.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, user *User) error

	// FindByID retrieves a user by ID. Returns ErrNotFound if absent.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByEmail retrieves a user by email. Returns ErrNotFound if absent.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePasswordHash replaces the stored password hash.
	// Returns ErrNotFound if the user does not exist.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error
}
