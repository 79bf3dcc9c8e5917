// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package memory provides in-process implementations of the auth repositories.
// Data is lost when the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/oruchinenye/authd/internal/auth"
)

// Store holds users and reset tokens in maps. It implements
// auth.UserRepository, auth.ResetTokenRepository and auth.Transactor.
//
// Transactions are serialized; writes made inside a failed transaction are
// undone in reverse order.
type Store struct {
	mu      sync.RWMutex
	users   map[ulid.ULID]auth.User
	byEmail map[string]ulid.ULID
	resets  map[string]auth.ResetToken // keyed by token hash

	txMu sync.Mutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:   make(map[ulid.ULID]auth.User),
		byEmail: make(map[string]ulid.ULID),
		resets:  make(map[string]auth.ResetToken),
	}
}

type txKey struct{}

// journal collects undo steps for the running transaction.
type journal struct {
	undo []func()
}

// WithinTx runs fn with exclusive access to transactional writes.
// Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		s.mu.Lock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// record registers an undo step. Callers hold s.mu.
func record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(txKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// Create implements auth.UserRepository.
func (s *Store) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	email := auth.NormalizeEmail(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", email).
			Wrap(auth.ErrDuplicateEmail)
	}
	stored := *user
	stored.Email = email
	s.users[user.ID] = stored
	s.byEmail[email] = user.ID
	record(ctx, func() {
		delete(s.users, stored.ID)
		delete(s.byEmail, email)
	})
	return nil
}

// FindByID implements auth.UserRepository.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return &user, nil
}

// FindByEmail implements auth.UserRepository.
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").Wrap(err)
	}
	email = auth.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	user := s.users[id]
	return &user, nil
}

// UpdatePasswordHash implements auth.UserRepository.
func (s *Store) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	previous := user
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()
	s.users[id] = user
	record(ctx, func() { s.users[id] = previous })
	return nil
}

// Users returns the number of stored users.
func (s *Store) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Resets is the reset token side of a Store. It is a distinct type because
// auth.ResetTokenRepository and auth.UserRepository both declare Create.
type Resets struct {
	s *Store
}

// ResetTokens returns the auth.ResetTokenRepository view of the store.
func (s *Store) ResetTokens() *Resets {
	return &Resets{s: s}
}

// Create implements auth.ResetTokenRepository.
func (r *Resets) Create(ctx context.Context, token *auth.ResetToken) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("RESET_CREATE_FAILED").Wrap(err)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resets[token.TokenHash]; exists {
		return oops.Code("RESET_CREATE_FAILED").Errorf("token hash already exists")
	}
	if _, ok := s.users[token.UserID]; !ok {
		return oops.Code("RESET_CREATE_FAILED").
			With("user_id", token.UserID.String()).
			Errorf("user does not exist")
	}
	stored := *token
	s.resets[token.TokenHash] = stored
	record(ctx, func() { delete(s.resets, stored.TokenHash) })
	return nil
}

// Consume implements auth.ResetTokenRepository.
func (r *Resets) Consume(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	if err := ctx.Err(); err != nil {
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.resets[tokenHash]
	if !ok || token.IsExpiredAt(now) {
		return ulid.ULID{}, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.resets, tokenHash)
	record(ctx, func() { s.resets[tokenHash] = token })
	return token.UserID, nil
}

// DeleteByUser implements auth.ResetTokenRepository.
func (r *Resets) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("RESET_DELETE_BY_USER_FAILED").Wrap(err)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, token := range s.resets {
		if token.UserID == userID {
			delete(s.resets, hash)
			record(ctx, func() { s.resets[hash] = token })
		}
	}
	return nil
}

// DeleteExpired implements auth.ResetTokenRepository.
func (r *Resets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, token := range s.resets {
		if token.IsExpiredAt(now) {
			delete(s.resets, hash)
			record(ctx, func() { s.resets[hash] = token })
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored reset tokens.
func (r *Resets) Len() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.resets)
}

// Compile-time interface checks.
var (
	_ auth.UserRepository       = (*Store)(nil)
	_ auth.Transactor           = (*Store)(nil)
	_ auth.ResetTokenRepository = (*Resets)(nil)
)
