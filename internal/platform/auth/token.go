package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL applies when Issue is called without a positive ttl.
const DefaultTokenTTL = 15 * time.Minute

// TokenType is reported to clients alongside the access token.
const TokenType = "bearer"

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrTokenMalformed = errors.New("token is malformed or has an invalid signature")
	ErrTokenExpired   = errors.New("token has expired")
	ErrUnknownSubject = errors.New("token subject no longer exists")
)

// TokenService issues and verifies stateless HS256 session tokens. Validity
// is a function of the signature, the expiry, and whether the subject still
// exists; there is no server-side session record and therefore no
// revocation.
type TokenService struct {
	key        []byte
	defaultTTL time.Duration
	users      UserLookup
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a service signing with key. A non-positive
// defaultTTL falls back to DefaultTokenTTL.
func NewTokenService(key []byte, defaultTTL time.Duration, users UserLookup, opts ...TokenOption) *TokenService {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	s := &TokenService{
		key:        key,
		defaultTTL: defaultTTL,
		users:      users,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the lifetime used when Issue receives ttl <= 0.
func (s *TokenService) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Issue signs a token for username that expires ttl from now.
func (s *TokenService) Issue(username string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	// JWT dates have whole-second precision.
	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate verifies the token and resolves its subject. The returned
// error wraps ErrTokenMalformed, ErrTokenExpired or ErrUnknownSubject.
func (s *TokenService) Authenticate(ctx context.Context, tokenStr string) (*User, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}

	u, err := s.users.Lookup(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, claims.Subject)
		}
		return nil, fmt.Errorf("resolve token subject: %w", err)
	}
	return u, nil
}
