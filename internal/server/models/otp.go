package models

import "time"

// OTPPurpose scopes a one-time passcode to a single flow.
type OTPPurpose string

const (
	OTPPurposeRegistration  OTPPurpose = "registration"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// Valid reports whether p is one of the known purposes.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeRegistration, OTPPurposePasswordReset:
		return true
	}
	return false
}

// OTP is an append-only passcode record. Only CodeHash is stored; the
// plaintext code leaves the process through email only.
type OTP struct {
	ID        int64
	Email     string
	Purpose   OTPPurpose
	CodeHash  string
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}
