// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/oruchinenye/authd/internal/auth"
)

// Response messages.
const (
	msgRunning          = "Server is running"
	msgRegistered       = "User registered successfully"
	msgResetSent        = "Password reset token sent to your email"
	msgPasswordReset    = "Password reset successfully"
	msgRegisterFailed   = "User registration failed"
	msgLoginFailed      = "Login failed due to server error"
	msgForgotFailed     = "Error in sending password reset token"
	msgResetFailed      = "Error in resetting password"
	msgProfileFailed    = "Error retrieving user profile"
	msgAuthFailed       = "Failed to authenticate token"
	msgTooManyRequests  = "Too many requests, please try again later"
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
)

// AuthService is the behavior the HTTP layer needs from auth.Service.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
	Profile(ctx context.Context, userID ulid.ULID) (*auth.Profile, error)
}

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type profileResponse struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type handlers struct {
	svc    AuthService
	logger *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(msgRunning))
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	f := failure{internal: msgRegisterFailed}

	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}

	_, err := h.svc.Register(r.Context(), auth.RegisterInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msgRegistered})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	f := failure{internal: msgLoginFailed}

	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	f := failure{internal: msgForgotFailed}

	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetSent})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	f := failure{internal: msgResetFailed, userNotFound: http.StatusBadRequest}

	var req resetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordReset})
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	f := failure{internal: msgProfileFailed}

	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, msgProfileFailed)
		return
	}

	profile, err := h.svc.Profile(r.Context(), identity.UserID)
	if err != nil {
		writeError(r.Context(), h.logger, w, err, f)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{FullName: profile.FullName, Email: profile.Email})
}
