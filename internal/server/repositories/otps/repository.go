// Package otps stores hashed one-time passcodes. Rows are append-only:
// consumption flips is_used and nothing is ever deleted.
package otps

import (
	"context"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/server/models"
)

type Repository interface {
	// Create appends a new OTP row and fills in its ID and CreatedAt.
	Create(ctx context.Context, otp *models.OTP) (*models.OTP, error)

	// FindLatestActive returns the newest unused row for (email, purpose)
	// whose expires_at is after now, or common.ErrorNotFound.
	FindLatestActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error)

	// MarkUsed flips is_used on the row only if it is still unused. It
	// reports whether this call performed the transition.
	MarkUsed(ctx context.Context, id int64) (bool, error)
}
