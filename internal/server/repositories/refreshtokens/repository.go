// Package refreshtokens declares the server-side store of live refresh
// sessions. Each row is keyed by the refresh token's jti and is consumed
// exactly once on rotation.
package refreshtokens

import (
	"context"
	"time"
)

// Repository tracks which refresh tokens are still redeemable.
type Repository interface {
	// Create records jti as a live refresh session for userID until expires.
	Create(ctx context.Context, jti string, userID string, expires time.Time) error

	// Consume deletes the unexpired row for jti and returns its owner.
	// A missing, expired or already consumed jti yields common.ErrorNotFound.
	Consume(ctx context.Context, jti string, now time.Time) (string, error)

	// DeleteByUser removes every refresh session of userID.
	DeleteByUser(ctx context.Context, userID string) error
}
