//go:build integration

package services_test

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/dmitrijs2005/socialauth/internal/server/mailer"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/otp"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/socialauth/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("socialauth_test"),
		postgres.WithUsername("socialauth"),
		postgres.WithPassword("socialauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, repomanager.NewPostgresRepositoryManager().RunMigrations(ctx, db))
	return db
}

func TestRefresh_Postgres_DeletedPrincipal(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	rm := repomanager.NewPostgresRepositoryManager()

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SecretKey:  []byte("integration-secret"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Issuer:     "socialauth",
	})
	require.NoError(t, err)
	registry := otp.NewRegistry(db, func(d dbx.DBTX) otps.Repository { return rm.OTPs(d) }, hasher)
	svc := services.NewAuthService(db, rm, hasher, tokens, registry, mailer.NewWriterSender(io.Discard, "noreply@x.com"))

	hash, err := hasher.Hash("Abcd123!")
	require.NoError(t, err)
	user, err := rm.Users(db).Create(ctx, &models.User{
		Username:      "alice",
		Email:         "alice@x.com",
		PasswordHash:  hash,
		EmailVerified: true,
	})
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "alice", "Abcd123!")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	require.NoError(t, err)

	var left int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM refresh_tokens WHERE user_id = $1`, user.ID).Scan(&left))
	require.Zero(t, left, "sessions cascade with the principal")

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrPrincipalNotFound)
}
