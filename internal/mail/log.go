// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mail

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the logger instead of delivering them.
// Reset tokens end up in the log, so it is meant for development only.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "mail", "driver", DriverLog)}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	if err := validateHeader("subject", subject); err != nil {
		return err
	}
	if _, err := parseAddress("to", to); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not delivered (log driver)",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
