package models

import "time"

// RefreshToken is the server-side record of a live refresh token, keyed by
// the token's jti claim.
type RefreshToken struct {
	ID        string
	UserID    string
	Expires   time.Time
	CreatedAt time.Time
}
