// Package services contains server-side business logic. AuthService
// composes the credential hasher, token service and OTP registry with the
// principal store and the mailer to implement registration, email
// verification, login, token refresh and password recovery.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/dmitrijs2005/socialauth/internal/server/mailer"
	"github.com/dmitrijs2005/socialauth/internal/server/metrics"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/otp"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/repomanager"
)

const (
	defaultDispatchTimeout = 30 * time.Second

	maxUsernameLen = 50
	maxEmailLen    = 255
	maxFullNameLen = 255
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
}

// Option customizes an AuthService.
type Option func(*AuthService)

func WithLogger(l logging.Logger) Option {
	return func(s *AuthService) { s.log = l.With("module", "auth") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

func WithPasswordPolicy(p auth.PasswordPolicy) Option {
	return func(s *AuthService) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithDispatchTimeout bounds a background code issue and send.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *AuthService) { s.dispatchTimeout = d }
}

// AuthService is safe for concurrent use; it holds no per-request state.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *auth.Hasher
	tokens      *auth.TokenService
	otps        *otp.Registry
	mailer      mailer.Sender
	policy      auth.PasswordPolicy
	now         func() time.Time
	log         logging.Logger
	metrics     *metrics.Metrics

	dispatchTimeout time.Duration
	dispatches      sync.WaitGroup
}

func NewAuthService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	hasher *auth.Hasher,
	tokens *auth.TokenService,
	otps *otp.Registry,
	sender mailer.Sender,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		tokens:      tokens,
		otps:        otps,
		mailer:      sender,
		policy:      auth.DefaultPasswordPolicy(),
		now:         time.Now,
		log:         logging.Nop{},

		dispatchTimeout: defaultDispatchTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates an unverified principal and mails it a registration
// code. The principal and its OTP commit together; a dispatch failure after
// commit is reported as common.ErrEmailDispatchFailed and the principal
// stays, to be verified through ResendVerification.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (user *models.User, err error) {
	defer func() { s.observe("register", err) }()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)
	if err := s.ensureUnclaimed(ctx, users.GetByUsername, in.Username); err != nil {
		return nil, err
	}
	if err := s.ensureUnclaimed(ctx, users.GetByEmail, in.Email); err != nil {
		return nil, err
	}

	if err := s.policy.Validate(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	var code string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Users(tx).Create(ctx, &models.User{
			Username:     in.Username,
			Email:        in.Email,
			PasswordHash: hash,
			FullName:     in.FullName,
		})
		if err != nil {
			return err
		}
		user = created

		code, err = s.otps.WithTx(tx).Create(ctx, in.Email, models.OTPPurposeRegistration)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)

	if err := s.mailer.SendOTP(ctx, in.Email, code, models.OTPPurposeRegistration); err != nil {
		s.log.Error(ctx, "registration email dispatch failed", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrEmailDispatchFailed, err)
	}
	return user, nil
}

// VerifyRegistration redeems a registration code and marks the principal's
// email as verified. Wrong, expired and already used codes are
// indistinguishable to the caller.
func (s *AuthService) VerifyRegistration(ctx context.Context, email, code string) (err error) {
	defer func() { s.observe("verify_registration", err) }()

	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.otps.WithTx(tx).Verify(ctx, email, code, models.OTPPurposeRegistration)
		if err != nil {
			return fmt.Errorf("verify otp: %w", err)
		}
		if !ok {
			return common.ErrInvalidOrExpiredOTP
		}

		users := s.repomanager.Users(tx)
		user, err := users.GetByEmail(ctx, email)
		if err != nil {
			return lookupErr(err)
		}
		user.EmailVerified = true
		if err := users.Save(ctx, user); err != nil {
			return lookupErr(err)
		}

		s.log.Info(ctx, "email verified", "user_id", user.ID)
		return nil
	})
}

// ResendVerification issues a fresh registration code to an unverified
// principal. Unknown and already verified addresses succeed silently. The
// code is created and mailed in the background, so every branch returns
// after the same single lookup.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { s.observe("resend_verification", err) }()

	email = normalizeEmail(email)

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.EmailVerified {
		s.dispatchAsync(ctx, user.ID, email, models.OTPPurposeRegistration)
	}
	return nil
}

// Login authenticates by username or email. A missing principal and a wrong
// password both yield common.ErrInvalidCredentials after comparable work.
// Correct credentials on an unverified account yield
// common.ErrEmailNotVerified.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (pair *TokenPair, err error) {
	defer func() { s.observe("login", err) }()

	identifier = strings.TrimSpace(identifier)

	user, err := s.findByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Burn(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, common.ErrEmailNotVerified
	}

	pair, err = s.issuePair(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user logged in", "user_id", user.ID)
	return pair, nil
}

// Refresh rotates a refresh token. The presented token's session row is
// consumed in the same transaction that stores its successor, so each
// refresh token is redeemable exactly once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { s.observe("refresh", err) }()

	claims, err := s.tokens.Validate(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		s.log.Debug(ctx, "refresh token rejected", "reason", err)
		return nil, common.ErrInvalidRefreshToken
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		owner, err := s.repomanager.RefreshTokens(tx).Consume(ctx, claims.ID, s.now())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return s.missingSession(ctx, tx, claims.Subject)
			}
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if owner != claims.Subject {
			return common.ErrInvalidRefreshToken
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, claims.Subject)
		if err != nil {
			return lookupErr(err)
		}

		pair, err = s.issuePair(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// ForgotPassword mails a password reset code when the address belongs to a
// principal. The outcome and the response time are the same whether or not
// it does.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.observe("forgot_password", err) }()

	email = normalizeEmail(email)

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	s.dispatchAsync(ctx, user.ID, email, models.OTPPurposePasswordReset)
	return nil
}

// ResetPassword sets a new password using a password reset code. The
// policy is checked before the code is touched. Consuming the code, storing
// the hash and revoking refresh sessions commit together.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) (err error) {
	defer func() { s.observe("reset_password", err) }()

	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.otps.WithTx(tx).Verify(ctx, email, code, models.OTPPurposePasswordReset)
		if err != nil {
			return fmt.Errorf("verify otp: %w", err)
		}
		if !ok {
			return common.ErrInvalidOrExpiredOTP
		}

		users := s.repomanager.Users(tx)
		user, err := users.GetByEmail(ctx, email)
		if err != nil {
			return lookupErr(err)
		}
		if err := s.setPassword(ctx, tx, user, hash); err != nil {
			return err
		}

		s.log.Info(ctx, "password reset", "user_id", user.ID)
		return nil
	})
}

// ChangePassword replaces the password of an authenticated principal and
// revokes its refresh sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (err error) {
	defer func() { s.observe("change_password", err) }()

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return lookupErr(err)
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return common.ErrIncorrectPassword
	}
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.setPassword(ctx, tx, user, hash); err != nil {
			return err
		}
		s.log.Info(ctx, "password changed", "user_id", user.ID)
		return nil
	})
}

// Authenticate validates an access token and returns its subject. The
// returned error is one of the token error kinds.
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (string, error) {
	claims, err := s.tokens.Validate(accessToken, auth.TokenTypeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// CurrentPrincipal loads the principal an access token was issued to.
func (s *AuthService) CurrentPrincipal(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr(err)
	}
	return user, nil
}

// Wait blocks until background code dispatches have finished.
func (s *AuthService) Wait() {
	s.dispatches.Wait()
}

// --- helpers below ---

// dispatchAsync creates a code for email and mails it off the request path.
// Failures are logged only.
func (s *AuthService) dispatchAsync(ctx context.Context, userID, email string, purpose models.OTPPurpose) {
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
		defer cancel()

		code, err := s.otps.Create(ctx, email, purpose)
		if err != nil {
			s.log.Error(ctx, "create otp failed", "user_id", userID, "purpose", purpose, "error", err)
			return
		}
		if err := s.mailer.SendOTP(ctx, email, code, purpose); err != nil {
			s.log.Error(ctx, "otp email dispatch failed", "user_id", userID, "purpose", purpose, "error", err)
		}
	}()
}

// missingSession classifies a refresh token whose session row is gone.
// Deleting a principal cascades to its sessions, so the principal is
// checked first.
func (s *AuthService) missingSession(ctx context.Context, tx dbx.DBTX, userID string) error {
	_, err := s.repomanager.Users(tx).GetByID(ctx, userID)
	switch {
	case err == nil:
		return common.ErrInvalidRefreshToken
	case errors.Is(err, common.ErrorNotFound):
		return common.ErrPrincipalNotFound
	default:
		return fmt.Errorf("user store: %w", err)
	}
}

func (s *AuthService) issuePair(ctx context.Context, db dbx.DBTX, userID string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(userID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, refresh.ID, userID, refresh.ExpiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access.Token, RefreshToken: refresh.Token, TokenType: "bearer"}, nil
}

func (s *AuthService) setPassword(ctx context.Context, tx dbx.DBTX, user *models.User, hash string) error {
	user.PasswordHash = hash
	if err := s.repomanager.Users(tx).Save(ctx, user); err != nil {
		return lookupErr(err)
	}
	if err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// findByLogin resolves identifier as a username first, then as an email.
func (s *AuthService) findByLogin(ctx context.Context, identifier string) (*models.User, error) {
	users := s.repomanager.Users(s.db)
	user, err := users.GetByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, common.ErrorNotFound) {
		return user, err
	}
	return users.GetByEmail(ctx, normalizeEmail(identifier))
}

func (s *AuthService) ensureUnclaimed(ctx context.Context, get func(context.Context, string) (*models.User, error), key string) error {
	_, err := get(ctx, key)
	switch {
	case err == nil:
		return common.ErrDuplicateIdentity
	case errors.Is(err, common.ErrorNotFound):
		return nil
	default:
		return fmt.Errorf("lookup user: %w", err)
	}
}

func (s *AuthService) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	s.metrics.ObserveOperation(operation, outcome)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, common.ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, common.ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, common.ErrInvalidOrExpiredOTP):
		return "invalid_otp"
	case errors.Is(err, common.ErrInvalidCredentials), errors.Is(err, common.ErrIncorrectPassword):
		return "invalid_credentials"
	case errors.Is(err, common.ErrEmailNotVerified):
		return "not_verified"
	case errors.Is(err, common.ErrInvalidRefreshToken):
		return "invalid_token"
	case errors.Is(err, common.ErrPrincipalNotFound):
		return "not_found"
	case errors.Is(err, common.ErrEmailDispatchFailed):
		return "dispatch_failed"
	case errors.Is(err, common.ErrInputTooLong), errors.Is(err, common.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

// lookupErr maps a store miss to common.ErrPrincipalNotFound.
func lookupErr(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrPrincipalNotFound
	}
	return fmt.Errorf("user store: %w", err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(in RegisterInput) error {
	if in.Username == "" || in.Email == "" {
		return fmt.Errorf("%w: username and email are required", common.ErrInvalidInput)
	}
	if len(in.Username) > maxUsernameLen || len(in.Email) > maxEmailLen || len(in.FullName) > maxFullNameLen {
		return common.ErrInputTooLong
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: malformed email address", common.ErrInvalidInput)
	}
	return nil
}
