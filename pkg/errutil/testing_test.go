// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/oruchinenye/authd/pkg/errutil"
)

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("AUTH_INVALID_INPUT").Errorf("email is required")
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_INPUT")
}

func TestAssertErrorCode_InnermostCodeWins(t *testing.T) {
	inner := oops.Code("DB_CONNECT_FAILED").Errorf("connection refused")
	err := oops.Code("SERVE_STORE_FAILED").Wrap(inner)
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.With("user_id", "01JABC").Errorf("user not found")
	errutil.AssertErrorContext(t, err, "user_id", "01JABC")
}

func TestAssertPublicMessage(t *testing.T) {
	err := oops.Code("AUTH_DUPLICATE_EMAIL").Public("User already exists").Errorf("email taken")
	errutil.AssertPublicMessage(t, err, "User already exists")
}
