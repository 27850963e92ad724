// Package otp issues and redeems one-time passcodes keyed by
// (email, purpose). Codes are stored as bcrypt hashes, expire after a fixed
// lifetime and can be consumed at most once.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/metrics"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/otps"
)

// TTL is how long an issued code stays redeemable.
const TTL = 10 * time.Minute

// Hasher is the subset of auth.Hasher the registry needs.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// RepoFactory binds an OTP repository to a handle. repomanager's OTPs
// method satisfies it.
type RepoFactory func(db dbx.DBTX) otps.Repository

// Registry is safe for concurrent use. Single use across concurrent
// verifiers is enforced by the store's conditional update.
type Registry struct {
	db      dbx.DBTX
	repos   RepoFactory
	hasher  Hasher
	now     func() time.Time
	log     logging.Logger
	metrics *metrics.Metrics
}

type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.log = l.With("module", "otp") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(db dbx.DBTX, repos RepoFactory, hasher Hasher, opts ...Option) *Registry {
	r := &Registry{
		db:     db,
		repos:  repos,
		hasher: hasher,
		now:    time.Now,
		log:    logging.Nop{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WithTx returns a copy of the registry whose reads and writes go through
// tx, so consuming a code commits or rolls back with the caller's writes.
func (r *Registry) WithTx(tx dbx.DBTX) *Registry {
	c := *r
	c.db = tx
	return &c
}

// Create issues a fresh code for (email, purpose) and returns the plaintext.
// Older codes for the same key stay in the store but only the newest one
// is ever matched.
func (r *Registry) Create(ctx context.Context, email string, purpose models.OTPPurpose) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("unknown otp purpose %q", purpose)
	}

	code, err := common.MakeNumericCode(common.OTPDigits)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	hash, err := r.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}

	rec := &models.OTP{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: r.now().Add(TTL),
	}
	if _, err := r.repos(r.db).Create(ctx, rec); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	r.metrics.ObserveOTPIssued(string(purpose))
	r.log.Debug(ctx, "otp issued", "email", email, "purpose", purpose, "expires_at", rec.ExpiresAt)
	return code, nil
}

// Verify reports whether code redeems the newest live OTP for
// (email, purpose), consuming it on success. A wrong code leaves the record
// untouched. Losing a race against a concurrent verifier yields false.
func (r *Registry) Verify(ctx context.Context, email, code string, purpose models.OTPPurpose) (bool, error) {
	ok, err := r.verify(ctx, email, code, purpose)
	if err == nil {
		r.metrics.ObserveOTPVerification(string(purpose), ok)
	}
	return ok, err
}

func (r *Registry) verify(ctx context.Context, email, code string, purpose models.OTPPurpose) (bool, error) {
	if !wellFormed(code) {
		return false, nil
	}

	repo := r.repos(r.db)

	rec, err := repo.FindLatestActive(ctx, email, purpose, r.now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find otp: %w", err)
	}

	if !r.hasher.Verify(code, rec.CodeHash) {
		return false, nil
	}

	consumed, err := repo.MarkUsed(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		r.log.Info(ctx, "otp already consumed by a concurrent request", "email", email, "purpose", purpose)
	}
	return consumed, nil
}

func wellFormed(code string) bool {
	if len(code) != common.OTPDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
