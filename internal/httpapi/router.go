// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package httpapi exposes the auth service over HTTP and JSON.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/oops"

	"github.com/oruchinenye/authd/internal/ratelimit"
)

// Rate-limited route names.
const (
	RouteLogin          = "login"
	RouteForgotPassword = "forgot-password"
	RouteResetPassword  = "reset-password"
)

// RouterOptions configures NewRouter. Service is required.
type RouterOptions struct {
	Service     AuthService
	Limiter     ratelimit.Limiter
	Metrics     Metrics
	Logger      *slog.Logger
	CORSOrigins []string
	// TrustedProxies lists peers (IPs or CIDR prefixes) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// peer address is always the client.
	TrustedProxies []string
}

// NewRouter builds the public API:
//
//	GET  /
//	POST /auth/register
//	POST /auth/login
//	POST /auth/forgot-password
//	POST /auth/reset-password
//	GET  /user/profile (bearer token)
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.Service == nil {
		return nil, oops.Code("HTTP_ROUTER_INVALID").Errorf("auth service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	h := &handlers{svc: opts.Service, logger: logger}
	limit := func(route string) func(http.Handler) http.Handler {
		return rateLimit(limiter, route, metrics, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(realIP(proxies))
	r.Use(accessLog(logger, metrics))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	r.Get("/", h.root)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.With(limit(RouteLogin)).Post("/login", h.login)
		r.With(limit(RouteForgotPassword)).Post("/forgot-password", h.forgotPassword)
		r.With(limit(RouteResetPassword)).Post("/reset-password", h.resetPassword)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(RequireAuth(opts.Service, logger))
		r.Get("/profile", h.profile)
	})

	return r, nil
}
