// Package auth holds the credential primitives of the auth core: password
// hashing, the password complexity policy and the bearer token service.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the bcrypt input limit. Longer secrets are rejected,
// never truncated.
const MaxSecretBytes = 72

// DefaultBcryptCost is used when a Hasher is built with cost 0.
const DefaultBcryptCost = 12

// Hasher produces and checks salted bcrypt hashes. It is safe for
// concurrent use.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a fresh salted hash of secret. Two calls with the same input
// yield different strings.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) > MaxSecretBytes {
		return "", common.ErrInputTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", common.ErrInputTooLong
		}
		return "", fmt.Errorf("hash: %w", err)
	}
	return string(b), nil
}

// Verify reports whether secret matches hash. A malformed hash or an
// oversized secret is a mismatch.
func (h *Hasher) Verify(secret, hash string) bool {
	if len(secret) > MaxSecretBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Burn spends the same work as a Verify against a real hash. Callers use it
// on lookup misses so response timing does not reveal whether an account
// exists.
func (h *Hasher) Burn(secret string) {
	h.dummyOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
		if err == nil {
			h.dummy = b
		}
	})
	if len(secret) > MaxSecretBytes {
		secret = secret[:MaxSecretBytes]
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(secret))
}
