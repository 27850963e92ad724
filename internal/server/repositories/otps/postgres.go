package otps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, otp *models.OTP) (*models.OTP, error) {
	query := `
		INSERT INTO email_otps (email, purpose, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, otp.Email, string(otp.Purpose), otp.CodeHash, otp.ExpiresAt).
		Scan(&otp.ID, &otp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return otp, nil
}

func (r *PostgresRepository) FindLatestActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error) {
	query := `
		SELECT id, email, purpose, code_hash, expires_at, is_used, created_at
		FROM email_otps
		WHERE email = $1 AND purpose = $2 AND is_used = false AND expires_at > $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	otp := &models.OTP{}
	var purposeStr string
	err := r.db.QueryRowContext(ctx, query, email, string(purpose), now).
		Scan(&otp.ID, &otp.Email, &purposeStr, &otp.CodeHash, &otp.ExpiresAt, &otp.IsUsed, &otp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	otp.Purpose = models.OTPPurpose(purposeStr)
	return otp, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE email_otps SET is_used = true
		WHERE id = $1 AND is_used = false
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}
