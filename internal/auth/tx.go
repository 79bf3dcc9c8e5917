// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import "context"

// Transactor runs a function as a single unit of work. Repository calls made
// with the context passed to fn take part in the transaction; if fn returns an
// error every write is rolled back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithinTx calls f.
func (f TransactorFunc) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
