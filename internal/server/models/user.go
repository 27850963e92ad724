// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is the authenticated principal. The auth core only mutates
// PasswordHash and EmailVerified.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	FullName      string
	EmailVerified bool
	CreatedAt     time.Time
}
