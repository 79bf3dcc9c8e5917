// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mail

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/samber/oops"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPSender delivers mail through an SMTP relay. STARTTLS is used when the
// server offers it; credentials are only sent over TLS.
type SMTPSender struct {
	from string
	addr string
	host string
	auth smtp.Auth
	now  func() time.Time
}

// NewSMTPSender validates cfg and creates an SMTPSender.
func NewSMTPSender(from string, cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	fromAddr, err := parseAddress("from", from)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	s := &SMTPSender{
		from: fromAddr,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host: cfg.Host,
		now:  time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// Send delivers one message. The context bounds dialing and the whole SMTP
// conversation.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (err error) {
	rcpt, err := parseAddress("to", to)
	if err != nil {
		return err
	}
	if err := validateHeader("subject", subject); err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "dial").With("addr", s.addr).Wrap(err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = s.now().Add(defaultSMTPTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return oops.Code("MAIL_SEND_FAILED").With("operation", "set deadline").Wrap(err)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return oops.Code("MAIL_SEND_FAILED").With("operation", "greeting").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("operation", "starttls").Wrap(err)
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("operation", "auth").Wrap(err)
		}
	}
	if err := c.Mail(s.from); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "mail from").Wrap(err)
	}
	if err := c.Rcpt(rcpt); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "rcpt to").Wrap(err)
	}
	w, err := c.Data()
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "data").Wrap(err)
	}
	if _, err := w.Write(buildMessage(s.from, rcpt, subject, body, s.now())); err != nil {
		_ = w.Close()
		return oops.Code("MAIL_SEND_FAILED").With("operation", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "end data").Wrap(err)
	}
	if err := c.Quit(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "quit").Wrap(err)
	}
	return nil
}
