// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the authd application metrics. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	RateLimited       *prometheus.CounterVec
	ResetTokensPurged prometheus.Counter
}

// NewMetrics creates the authd metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authd_http_request_duration_seconds",
				Help:    "HTTP request latency by route and method",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"route", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter by route",
			},
			[]string{"route"},
		),
		ResetTokensPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_reset_tokens_purged_total",
				Help: "Total number of expired password reset tokens deleted",
			},
		),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.RateLimited, m.ResetTokensPurged)
	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(route).Inc()
}

// AddResetTokensPurged counts expired reset tokens removed by the purge loop.
func (m *Metrics) AddResetTokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ResetTokensPurged.Add(float64(n))
}
