// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package auth provides the account and credential core of authd.
//
// # Domain Types
//
// Domain types should be created through their constructors:
//   - NewUser - creates a User with a fresh ID and normalized, validated email
//   - NewResetToken - creates a ResetToken with validated owner and expiry
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Credentials
//
//   - PasswordHasher - argon2id (default) or bcrypt; each verifies both formats
//   - TokenIssuer - HS256 session tokens with a one hour default lifetime
//   - ResetTokenManager - single-use reset tokens stored as SHA-256 hashes
//
// # Services
//
// Service coordinates register, login, forgot-password, reset-password and
// profile lookup. Its errors match the sentinels in errors.go with errors.Is
// and carry an oops code plus a client-safe public message.
package auth
