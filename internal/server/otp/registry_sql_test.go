package otp

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/otps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func postgresFactory(db dbx.DBTX) otps.Repository { return otps.NewPostgresRepository(db) }

// A matching code whose conditional UPDATE touches no row lost the race to
// another verifier and must be rejected.
func TestVerify_SQL_LostRace(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	h, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := h.Hash("424242")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "email", "purpose", "code_hash", "expires_at", "is_used", "created_at"}

	mock.ExpectQuery(`(?s)SELECT\s+id.*FROM\s+email_otps`).
		WithArgs("alice@x.com", "registration", now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), "alice@x.com", "registration", hash, now.Add(time.Minute), false, now))
	mock.ExpectExec(`(?s)UPDATE\s+email_otps\s+SET\s+is_used\s*=\s*true\s+WHERE\s+id\s*=\s*\$1\s+AND\s+is_used\s*=\s*false`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := NewRegistry(db, postgresFactory, h, WithClock(func() time.Time { return now }))
	ok, err := r.Verify(context.Background(), "alice@x.com", "424242", models.OTPPurposeRegistration)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerify_SQL_MismatchSkipsUpdate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	h, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := h.Hash("424242")
	require.NoError(t, err)

	now := time.Now()
	cols := []string{"id", "email", "purpose", "code_hash", "expires_at", "is_used", "created_at"}
	mock.ExpectQuery(`(?s)SELECT\s+id.*FROM\s+email_otps`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), "alice@x.com", "registration", hash, now.Add(time.Minute), false, now))

	r := NewRegistry(db, postgresFactory, h, WithClock(func() time.Time { return now }))
	ok, err := r.Verify(context.Background(), "alice@x.com", "999999", models.OTPPurposeRegistration)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet(), "no UPDATE may be issued for a wrong code")
}
