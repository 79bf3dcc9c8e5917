// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import "errors"

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Domain errors returned by Service. Callers match them with errors.Is; the
// concrete errors are oops errors carrying a code and a public message.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrTokenMissing       = errors.New("session token missing")
	ErrTokenInvalid       = errors.New("session token invalid")
	ErrTokenExpired       = errors.New("session token expired")
	ErrMissingSecret      = errors.New("signing secret is required")
)

// Error codes attached to domain errors.
const (
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeInvalidResetToken  = "RESET_TOKEN_INVALID"
	CodeTokenMissing       = "SESSION_TOKEN_MISSING"
	CodeTokenInvalid       = "SESSION_TOKEN_INVALID"
	CodeTokenExpired       = "SESSION_TOKEN_EXPIRED"
)
