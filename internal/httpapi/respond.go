// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/oruchinenye/authd/internal/auth"
	"github.com/oruchinenye/authd/pkg/errutil"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errMalformedBody is returned by decode for unreadable or non-JSON bodies.
var errMalformedBody = errors.New("malformed request body")

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a single JSON object from the request body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return oops.Code("HTTP_BAD_BODY").Public("Invalid request body").Wrap(errors.Join(errMalformedBody, err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code("HTTP_BAD_BODY").Public("Invalid request body").Wrap(errMalformedBody)
	}
	return nil
}

// failure describes how a route reports errors the service does not map
// to a client status.
type failure struct {
	// internal is the message sent with a 500.
	internal string
	// userNotFound is the status for auth.ErrUserNotFound; zero means 404.
	userNotFound int
}

// statusFor maps a service error to an HTTP status. ok is false for errors
// that are not part of the client-facing taxonomy.
func statusFor(err error, f failure) (status int, ok bool) {
	switch {
	case errors.Is(err, errMalformedBody),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, auth.ErrInvalidResetToken):
		return http.StatusBadRequest, true
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, true
	case errors.Is(err, auth.ErrTokenMissing):
		return http.StatusForbidden, true
	case errors.Is(err, auth.ErrUserNotFound):
		if f.userNotFound != 0 {
			return f.userNotFound, true
		}
		return http.StatusNotFound, true
	default:
		return http.StatusInternalServerError, false
	}
}

// writeError sends err to the client. Internal errors are logged with the
// request id and answered with the route's fixed message.
func writeError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error, f failure) {
	status, ok := statusFor(err, f)
	if !ok {
		errutil.LogErrorContext(ctx, logger, "request failed", err,
			"request_id", middleware.GetReqID(ctx),
		)
		writeErrorMessage(w, status, f.internal)
		return
	}
	writeErrorMessage(w, status, oops.GetPublic(err, http.StatusText(status)))
}
