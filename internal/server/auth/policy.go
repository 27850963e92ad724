package auth

import (
	"fmt"
	"unicode"

	"github.com/dmitrijs2005/socialauth/internal/common"
)

// PasswordPolicy is the complexity rule set applied to new passwords.
type PasswordPolicy struct {
	MinLength int
	MaxBytes  int
}

// DefaultPasswordPolicy requires 8 to 72 bytes with upper, lower, digit and
// symbol classes present.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxBytes: MaxSecretBytes}
}

// Validate checks pw rule by rule and returns a *common.WeakPasswordError
// for the first rule that fails.
//
// Rule order: minimum length, maximum length, uppercase, lowercase, digit,
// symbol. Length is counted in characters for the minimum and bytes for the
// maximum. Any Unicode punctuation or symbol character counts as a symbol.
func (p PasswordPolicy) Validate(pw string) error {
	if len([]rune(pw)) < p.MinLength {
		return &common.WeakPasswordError{Rule: fmt.Sprintf("must be at least %d characters long", p.MinLength)}
	}
	if len(pw) > p.MaxBytes {
		return &common.WeakPasswordError{Rule: fmt.Sprintf("must be at most %d bytes long", p.MaxBytes)}
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return &common.WeakPasswordError{Rule: "must contain at least one uppercase letter"}
	case !lower:
		return &common.WeakPasswordError{Rule: "must contain at least one lowercase letter"}
	case !digit:
		return &common.WeakPasswordError{Rule: "must contain at least one number"}
	case !symbol:
		return &common.WeakPasswordError{Rule: "must contain at least one special character"}
	}
	return nil
}
