package main

import (
	"bytes"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func stubPasswords(t *testing.T, inputs ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	i := 0
	readPassword = func(int) ([]byte, error) {
		if i >= len(inputs) {
			return nil, errors.New("no more input")
		}
		pw := inputs[i]
		i++
		return []byte(pw), nil
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dsn = ""
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestHashPassword(t *testing.T) {
	stubPasswords(t, "Abcd123!", "Abcd123!")

	out, errOut, err := execute(t, "hash-password", "--cost", "4")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Enter password")

	hash := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(hash, "$2a$04$"), hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Abcd123!")))
	assert.NotContains(t, out+errOut, "Abcd123!")
}

func TestHashPassword_Mismatch(t *testing.T) {
	stubPasswords(t, "Abcd123!", "Abcd124!")

	out, _, err := execute(t, "hash-password", "--cost", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match")
	assert.Empty(t, out)
}

func TestHashPassword_Policy(t *testing.T) {
	stubPasswords(t, "password", "password")
	_, _, err := execute(t, "hash-password", "--cost", "4")
	require.ErrorIs(t, err, common.ErrWeakPassword)

	stubPasswords(t, "password", "password")
	out, _, err := execute(t, "hash-password", "--cost", "4", "--skip-policy")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestHashPassword_BadCost(t *testing.T) {
	stubPasswords(t)
	_, _, err := execute(t, "hash-password", "--cost", "40")
	require.Error(t, err)
}

func TestMigrate_RequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, _, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN required")
}

func TestMigrate_ConnectFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	orig := openDB
	t.Cleanup(func() { openDB = orig })
	var gotDSN string
	openDB = func(d string) (*sql.DB, error) {
		gotDSN = d
		return db, nil
	}

	t.Setenv("DATABASE_URL", "postgres://from-env")
	_, _, err = execute(t, "migrate", "--dsn", "postgres://from-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to database")
	assert.Equal(t, "postgres://from-flag", gotDSN)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenSecret(t *testing.T) {
	out, _, err := execute(t, "gen-secret", "--bytes", "48")
	require.NoError(t, err)
	s := strings.TrimSpace(out)
	assert.Len(t, s, 96)

	out2, _, err := execute(t, "gen-secret")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out2), 64)
	assert.NotEqual(t, s, strings.TrimSpace(out2))

	_, _, err = execute(t, "gen-secret", "--bytes", "8")
	require.Error(t, err)
}
