// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package mail delivers plain-text email through a configurable driver.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Driver names.
const (
	DriverLog  = "log"
	DriverSMTP = "smtp"
	DriverSES  = "ses"
)

// Sender delivers a plain-text message to a single recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig configures the SMTP driver.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// SESConfig configures the Amazon SES driver. Credentials come from the
// default AWS chain unless both static keys are set.
type SESConfig struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// Config selects and configures a driver.
type Config struct {
	Driver string     `koanf:"driver"`
	From   string     `koanf:"from"`
	SMTP   SMTPConfig `koanf:"smtp"`
	SES    SESConfig  `koanf:"ses"`
}

// New builds the Sender selected by cfg.Driver.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case DriverLog, "":
		return NewLogSender(logger), nil
	case DriverSMTP:
		return NewSMTPSender(cfg.From, cfg.SMTP)
	case DriverSES:
		return NewSESSender(ctx, cfg.From, cfg.SES)
	default:
		return nil, oops.Code("MAIL_UNKNOWN_DRIVER").
			With("driver", cfg.Driver).
			Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// validateHeader rejects values that would let a caller inject headers.
func validateHeader(name, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return oops.Code("MAIL_INVALID_HEADER").
			With("header", name).
			Errorf("%s must not contain line breaks", name)
	}
	return nil
}

// parseAddress returns the bare address of s.
func parseAddress(field, s string) (string, error) {
	if err := validateHeader(field, s); err != nil {
		return "", err
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", oops.Code("MAIL_INVALID_ADDRESS").
			With("field", field).
			Wrap(err)
	}
	return addr.Address, nil
}

// buildMessage renders an RFC 5322 message with a UTF-8 plain-text body.
func buildMessage(from, to, subject, body string, now time.Time) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", ulid.Make().String(), domainOf(from)))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
