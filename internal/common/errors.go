// Package common defines shared constants and sentinel errors used across
// the repository, service and transport layers. Callers should use errors.Is
// to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Auth orchestration outcomes. All of them are expected and caller-facing.
	ErrDuplicateIdentity   = errors.New("email or username already registered")
	ErrWeakPassword        = errors.New("password does not meet complexity requirements")
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired otp")
	ErrInvalidCredentials  = errors.New("incorrect username or password")
	ErrIncorrectPassword   = errors.New("incorrect current password")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrInvalidRefreshToken = errors.New("could not validate refresh token")
	ErrPrincipalNotFound   = errors.New("user not found")
	ErrEmailDispatchFailed = errors.New("failed to send email")
	ErrInputTooLong        = errors.New("input too long")
	ErrInvalidInput        = errors.New("invalid input")

	// Token validation errors. These drive internal logic only and must be
	// collapsed to a generic authentication failure at the boundary.
	ErrInvalidSignature = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrWrongTokenType   = errors.New("wrong token type")
)

// WeakPasswordError reports the first complexity rule a password failed.
// It matches ErrWeakPassword with errors.Is.
type WeakPasswordError struct {
	Rule string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword.Error(), e.Rule)
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}
