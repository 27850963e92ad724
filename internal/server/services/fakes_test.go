package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/otp"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore backs the fake repositories. Handles passed to the factories are
// ignored; transaction boundaries are asserted through sqlmock instead.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	otpRows  []*models.OTP
	sessions map[string]*models.RefreshToken

	getErr error
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*models.User{}, sessions: map[string]*models.RefreshToken{}}
}

// deleteUser drops a principal and its sessions, as the schema's cascade
// does.
func (s *memStore) deleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	for jti, rt := range s.sessions {
		if rt.UserID == id {
			delete(s.sessions, jti)
		}
	}
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.users {
		if e.Username == u.Username || e.Email == u.Email {
			return nil, common.ErrDuplicateIdentity
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return u, nil
}

func (r memUsers) find(match func(*models.User) bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.getErr != nil {
		return nil, r.s.getErr
	}
	for _, u := range r.s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) GetByUsername(_ context.Context, v string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Username == v })
}

func (r memUsers) GetByEmail(_ context.Context, v string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == v })
}

func (r memUsers) GetByID(_ context.Context, v string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == v })
}

func (r memUsers) Save(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.users[u.ID]
	if !ok {
		return common.ErrorNotFound
	}
	e.PasswordHash = u.PasswordHash
	e.EmailVerified = u.EmailVerified
	return nil
}

type memOTPs struct{ s *memStore }

func (r memOTPs) Create(_ context.Context, o *models.OTP) (*models.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.ID = int64(len(r.s.otpRows) + 1)
	cp := *o
	r.s.otpRows = append(r.s.otpRows, &cp)
	return o, nil
}

func (r memOTPs) FindLatestActive(_ context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.otpRows) - 1; i >= 0; i-- {
		o := r.s.otpRows[i]
		if o.Email == email && o.Purpose == purpose && !o.IsUsed && o.ExpiresAt.After(now) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memOTPs) MarkUsed(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.otpRows {
		if o.ID == id && !o.IsUsed {
			o.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, jti, userID string, expires time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[jti] = &models.RefreshToken{ID: jti, UserID: userID, Expires: expires}
	return nil
}

func (r memSessions) Consume(_ context.Context, jti string, now time.Time) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rt, ok := r.s.sessions[jti]
	if !ok || !rt.Expires.After(now) {
		return "", common.ErrorNotFound
	}
	delete(r.s.sessions, jti)
	return rt.UserID, nil
}

func (r memSessions) DeleteByUser(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, v := range r.s.sessions {
		if v.UserID == userID {
			delete(r.s.sessions, k)
		}
	}
	return nil
}

type fakeRepoManager struct{ s *memStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return memUsers{m.s} }
func (m *fakeRepoManager) OTPs(dbx.DBTX) otps.Repository                { return memOTPs{m.s} }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return memSessions{m.s}
}

type sentMail struct {
	email   string
	code    string
	purpose models.OTPPurpose
}

// fakeMailer records sends. A non-nil gate holds every send until it is
// closed.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
	gate chan struct{}
}

func (f *fakeMailer) SendOTP(_ context.Context, email, code string, purpose models.OTPPurpose) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{email, code, purpose})
	return nil
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc    *AuthService
	store  *memStore
	mailer *fakeMailer
	mock   sqlmock.Sqlmock
	clock  *testClock
	tokens *auth.TokenService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet(), "sql expectations")
		db.Close()
	})

	clock := &testClock{t: time.Unix(1_760_000_000, 0)}
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SecretKey:  []byte("test-secret"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "socialauth",
		Now:        clock.Now,
	})
	require.NoError(t, err)

	store := newMemStore()
	rm := &fakeRepoManager{s: store}
	registry := otp.NewRegistry(db, rm.OTPs, hasher, otp.WithClock(clock.Now))
	m := &fakeMailer{}

	svc := NewAuthService(db, rm, hasher, tokens, registry, m, WithClock(clock.Now))
	return &harness{svc: svc, store: store, mailer: m, mock: mock, clock: clock, tokens: tokens}
}

func (h *harness) expectTx(commit bool) {
	h.mock.ExpectBegin()
	if commit {
		h.mock.ExpectCommit()
	} else {
		h.mock.ExpectRollback()
	}
}

// registerVerified runs register and verify for a fresh principal.
func (h *harness) registerVerified(t *testing.T, username, email, password string) *models.User {
	t.Helper()
	h.expectTx(true)
	u, err := h.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: password})
	require.NoError(t, err)

	h.expectTx(true)
	require.NoError(t, h.svc.VerifyRegistration(context.Background(), email, h.mailer.last(t).code))
	return u
}

var errBoom = errors.New("boom")
