package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the complete claim set of a token. Any other claim name in a
// payload makes the token invalid.
type Claims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

var allowedClaims = map[string]struct{}{
	"sub": {}, "type": {}, "iat": {}, "exp": {}, "jti": {}, "iss": {},
}

// TokenConfig is fixed at startup and never mutated.
type TokenConfig struct {
	SecretKey  []byte
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// IssuedToken is a signed token together with the claims a caller may need
// to persist.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenService signs and validates HMAC JWTs.
type TokenService struct {
	key        []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
	parser     *jwt.Parser
}

// NewTokenService validates cfg and builds a TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("token secret key is empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	var method jwt.SigningMethod
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	key := make([]byte, len(cfg.SecretKey))
	copy(key, cfg.SecretKey)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &TokenService{
		key:        key,
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        now,
		parser:     jwt.NewParser(opts...),
	}, nil
}

// IssueAccessToken signs a short-lived access token for subject.
func (s *TokenService) IssueAccessToken(subject string) (IssuedToken, error) {
	return s.issue(subject, TokenTypeAccess, s.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for subject.
func (s *TokenService) IssueRefreshToken(subject string) (IssuedToken, error) {
	return s.issue(subject, TokenTypeRefresh, s.refreshTTL)
}

func (s *TokenService) issue(subject string, typ TokenType, ttl time.Duration) (IssuedToken, error) {
	if subject == "" {
		return IssuedToken{}, errors.New("token subject is empty")
	}

	now := s.now().Truncate(time.Second)
	exp := now.Add(ttl)
	id := uuid.NewString()

	token := jwt.NewWithClaims(s.method, Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        id,
		},
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return IssuedToken{Token: signed, ID: id, ExpiresAt: exp}, nil
}

// Validate checks signature, expiry and type, in that order, and returns
// the claims of a token of the expected type.
//
// Errors are exactly one of common.ErrInvalidSignature (covers malformed
// tokens, foreign algorithms and bad claim sets), common.ErrTokenExpired
// or common.ErrWrongTokenType.
func (s *TokenService) Validate(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}

	_, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidSignature
	}

	if err := checkClaimNames(tokenString); err != nil {
		return nil, common.ErrInvalidSignature
	}
	if claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, common.ErrInvalidSignature
	}

	switch claims.Type {
	case TokenTypeAccess, TokenTypeRefresh:
	default:
		return nil, common.ErrInvalidSignature
	}
	if claims.Type != expected {
		return nil, common.ErrWrongTokenType
	}

	return claims, nil
}

// checkClaimNames rejects payloads carrying claims outside the fixed set.
// It runs only after the signature has been verified.
func checkClaimNames(tokenString string) error {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return jwt.ErrTokenMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}
	for name := range raw {
		if _, ok := allowedClaims[name]; !ok {
			return fmt.Errorf("unexpected claim %q", name)
		}
	}
	return nil
}
