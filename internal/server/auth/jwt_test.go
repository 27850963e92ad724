package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestService(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(TokenConfig{
		SecretKey:  []byte("super-secret"),
		Algorithm:  "HS256",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "socialauth",
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func signMap(t *testing.T, method jwt.SigningMethod, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestIssueAndValidate_Success(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	access, err := svc.IssueAccessToken("user-123")
	require.NoError(t, err)
	assert.NotEmpty(t, access.ID)
	assert.Equal(t, clock.t.Add(30*time.Minute), access.ExpiresAt)

	claims, err := svc.Validate(access.Token, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.Equal(t, access.ID, claims.ID)
	assert.Equal(t, "socialauth", claims.Issuer)

	refresh, err := svc.IssueRefreshToken("user-123")
	require.NoError(t, err)
	assert.NotEqual(t, access.ID, refresh.ID)
	assert.Equal(t, clock.t.Add(7*24*time.Hour), refresh.ExpiresAt)

	claims, err = svc.Validate(refresh.Token, TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
}

func TestValidate_WrongType(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeClock{t: time.Now()})

	refresh, err := svc.IssueRefreshToken("u1")
	require.NoError(t, err)
	_, err = svc.Validate(refresh.Token, TokenTypeAccess)
	require.ErrorIs(t, err, common.ErrWrongTokenType)

	access, err := svc.IssueAccessToken("u1")
	require.NoError(t, err)
	_, err = svc.Validate(access.Token, TokenTypeRefresh)
	require.ErrorIs(t, err, common.ErrWrongTokenType)
}

func TestValidate_Expired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	tok, err := svc.IssueAccessToken("u1")
	require.NoError(t, err)

	clock.t = clock.t.Add(31 * time.Minute)
	_, err = svc.Validate(tok.Token, TokenTypeAccess)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestValidate_SignatureCheckedBeforeExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	tok, err := svc.IssueAccessToken("u1")
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	tampered := tok.Token[:len(tok.Token)-2] + "xx"
	_, err = svc.Validate(tampered, TokenTypeAccess)
	require.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestValidate_InvalidSignature(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Now()}
	svc := newTestService(t, clock)

	other, err := NewTokenService(TokenConfig{
		SecretKey: []byte("wrong-secret"), AccessTTL: time.Hour, RefreshTTL: time.Hour, Issuer: "socialauth", Now: clock.Now,
	})
	require.NoError(t, err)

	tok, err := other.IssueAccessToken("u2")
	require.NoError(t, err)

	_, err = svc.Validate(tok.Token, TokenTypeAccess)
	require.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestValidate_RejectsBadClaimSets(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	svc := newTestService(t, &fakeClock{t: now})
	key := []byte("super-secret")

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":  "u1",
			"type": "access",
			"iat":  now.Unix(),
			"exp":  now.Add(time.Minute).Unix(),
			"jti":  "j1",
			"iss":  "socialauth",
		}
	}

	tests := []struct {
		name   string
		mutate func(c jwt.MapClaims)
		method jwt.SigningMethod
	}{
		{name: "unknown claim", mutate: func(c jwt.MapClaims) { c["role"] = "admin" }},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "missing jti", mutate: func(c jwt.MapClaims) { delete(c, "jti") }},
		{name: "missing iat", mutate: func(c jwt.MapClaims) { delete(c, "iat") }},
		{name: "unknown type", mutate: func(c jwt.MapClaims) { c["type"] = "session" }},
		{name: "foreign issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "elsewhere" }},
		{name: "other hmac algorithm", mutate: func(jwt.MapClaims) {}, method: jwt.SigningMethodHS512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			method := tt.method
			if method == nil {
				method = jwt.SigningMethodHS256
			}

			_, err := svc.Validate(signMap(t, method, key, c), TokenTypeAccess)
			require.ErrorIs(t, err, common.ErrInvalidSignature)
		})
	}
}

func TestValidate_NoneAlgorithm(t *testing.T) {
	t.Parallel()

	now := time.Now()
	svc := newTestService(t, &fakeClock{t: now})

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "type": "access", "iat": now.Unix(), "exp": now.Add(time.Minute).Unix(), "jti": "j", "iss": "socialauth",
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(s, TokenTypeAccess)
	require.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestValidate_MalformedString(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeClock{t: time.Now()})

	for _, in := range []string{"", "not.a.jwt", "abc", strings.Repeat("a.", 5)} {
		_, err := svc.Validate(in, TokenTypeAccess)
		if !errors.Is(err, common.ErrInvalidSignature) {
			t.Fatalf("input %q: expected ErrInvalidSignature, got %v", in, err)
		}
	}
}

func TestNewTokenService_Config(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService(TokenConfig{AccessTTL: time.Minute, RefreshTTL: time.Minute})
	require.Error(t, err, "empty key")

	_, err = NewTokenService(TokenConfig{SecretKey: []byte("k"), AccessTTL: time.Minute, RefreshTTL: 0})
	require.Error(t, err, "zero ttl")

	_, err = NewTokenService(TokenConfig{SecretKey: []byte("k"), Algorithm: "RS256", AccessTTL: time.Minute, RefreshTTL: time.Minute})
	require.Error(t, err, "asymmetric algorithm")

	svc, err := NewTokenService(TokenConfig{SecretKey: []byte("k"), Algorithm: "hs384", AccessTTL: time.Minute, RefreshTTL: time.Minute})
	require.NoError(t, err)
	tok, err := svc.IssueAccessToken("u1")
	require.NoError(t, err)
	_, err = svc.Validate(tok.Token, TokenTypeAccess)
	require.NoError(t, err)

	_, err = svc.IssueAccessToken("")
	require.Error(t, err)
}
