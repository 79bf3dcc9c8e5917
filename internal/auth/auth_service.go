// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Password reset email content.
const (
	ResetEmailSubject    = "Password Reset"
	resetEmailBodyPrefix = "Your password reset token is "
)

// dummyPasswordHash is verified when a login names an unknown email so the
// response time does not reveal whether the account exists. It matches no password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

var tracer = otel.Tracer("github.com/oruchinenye/authd/internal/auth")

// Mailer delivers a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RegisterInput is the data required to create an account.
type RegisterInput struct {
	FullName string
	Email    string
	Password string
}

// ServiceDeps are the collaborators of Service. Tx and Logger are optional.
type ServiceDeps struct {
	Users  UserRepository
	Resets *ResetTokenManager
	Tokens *TokenIssuer
	Hasher PasswordHasher
	Mailer Mailer
	Tx     Transactor
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service implements registration, login, password reset and profile lookup.
type Service struct {
	users  UserRepository
	resets *ResetTokenManager
	tokens *TokenIssuer
	hasher PasswordHasher
	mailer Mailer
	tx     Transactor
	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service, validating that required collaborators are set.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case deps.Resets == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset token manager is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token issuer is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Mailer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("mailer is required")
	}

	s := &Service{
		users:  deps.Users,
		resets: deps.Resets,
		tokens: deps.Tokens,
		hasher: deps.Hasher,
		mailer: deps.Mailer,
		tx:     deps.Tx,
		logger: deps.Logger,
		now:    deps.Clock,
	}
	if s.tx == nil {
		s.tx = TransactorFunc(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Register creates a new account. It does not log the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *User, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, invalidInput("Full name, email, and password are required")
	}
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, oops.Code(CodeInvalidInput).
			Public("Email address is invalid").
			With("reason", err.Error()).
			Wrap(ErrInvalidInput)
	}

	_, err = s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, duplicateEmail()
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(in.FullName, email, hash, s.now())
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "new user").
			Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		// A concurrent registration can win between the lookup and the insert.
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, duplicateEmail()
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// Login verifies the credentials and returns a signed session token.
// Unknown emails and wrong passwords fail identically with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", invalidInput("Email and password are required")
	}

	user, lookupErr := s.users.FindByEmail(ctx, email)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user by email").
			Wrap(lookupErr)
	}

	// Always verify a hash so both branches cost the same.
	if user == nil {
		//nolint:errcheck // result is discarded; the account does not exist
		s.hasher.Verify(password, s.timingHash())
		return "", invalidCredentials()
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return "", invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}
	return token, nil
}

// ForgotPassword emails a reset token to the account holder. It succeeds
// without sending anything when no account uses the email.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ForgotPassword")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return invalidInput("Email is required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	var token string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var issueErr error
		token, issueErr = s.resets.Issue(ctx, user.ID)
		return issueErr
	})
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	if err := s.mailer.Send(ctx, user.Email, ResetEmailSubject, resetEmailBodyPrefix+token); err != nil {
		// An undelivered token must not stay redeemable.
		if revokeErr := s.resets.Revoke(ctx, user.ID); revokeErr != nil {
			s.logger.WarnContext(ctx, "failed to revoke undelivered reset token",
				"user_id", user.ID.String(),
				"error", revokeErr,
			)
		}
		return oops.Code("RESET_EMAIL_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset token sent", "user_id", user.ID.String())
	return nil
}

// ResetPassword redeems the reset token and replaces the owner's password.
// Redemption, the password update and revocation of the owner's remaining
// tokens commit together or not at all.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	if token == "" || newPassword == "" {
		return invalidInput("Token and new password are required")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	var userID ulid.ULID
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var redeemErr error
		userID, redeemErr = s.resets.Redeem(ctx, token)
		if redeemErr != nil {
			return redeemErr
		}
		if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
			if errors.Is(err, ErrNotFound) {
				return userNotFound(userID)
			}
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "update password hash").
				Wrap(err)
		}
		return s.resets.Revoke(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) || errors.Is(err, ErrUserNotFound) {
			return err
		}
		return oops.Code("RESET_PASSWORD_FAILED").Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", userID.String())
	return nil
}

// Authenticate verifies a bearer token and returns the identity it carries.
func (s *Service) Authenticate(ctx context.Context, token string) (_ *Identity, err error) {
	_, span := tracer.Start(ctx, "auth.Authenticate")
	defer func() { endSpan(span, err) }()

	return s.tokens.Verify(token)
}

// Profile returns the public profile of the user.
func (s *Service) Profile(ctx context.Context, userID ulid.ULID) (_ *Profile, err error) {
	ctx, span := tracer.Start(ctx, "auth.Profile")
	defer func() { endSpan(span, err) }()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFound(userID)
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			With("operation", "find user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}
	profile := user.Profile()
	return &profile, nil
}

// PurgeExpiredResetTokens removes reset tokens that can no longer be redeemed.
func (s *Service) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	return s.resets.PurgeExpired(ctx)
}

// upgradeHash re-hashes the password with the configured algorithm.
// Failure is logged and does not affect the login.
func (s *Service) upgradeHash(ctx context.Context, userID ulid.ULID, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, userID, newHash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"user_id", userID.String(),
			"operation", "upgrade_hash",
			"error", err,
		)
	}
}

// timingHash returns a hash in the configured algorithm for unknown-user logins.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash = dummyPasswordHash
		if !s.hasher.NeedsUpgrade(dummyPasswordHash) {
			return
		}
		if h, err := s.hasher.Hash(ulid.Make().String()); err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalidInput(public string) error {
	return oops.Code(CodeInvalidInput).Public(public).Wrap(ErrInvalidInput)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Public("Invalid email or password").Wrap(ErrInvalidCredentials)
}

func duplicateEmail() error {
	return oops.Code(CodeDuplicateEmail).Public("User already exists").Wrap(ErrDuplicateEmail)
}

func userNotFound(userID ulid.ULID) error {
	return oops.Code(CodeUserNotFound).
		Public("User not found").
		With("user_id", userID.String()).
		Wrap(ErrUserNotFound)
}
