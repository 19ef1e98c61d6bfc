// Package auth issues and verifies short-lived signed tokens. Tokens are
// stateless: verification depends only on the token, the shared secret and
// the clock.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of every issued token.
const TokenTTL = time.Hour

var (
	// ErrNoSecret is returned when the manager has no signing secret.
	ErrNoSecret = errors.New("secretOrPrivateKey must have a value")
	// ErrInvalidToken is returned for tokens that fail verification for a
	// reason not covered by a more specific error.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("jwt expired")
	// ErrBadSignature is returned when the signature does not match.
	ErrBadSignature = errors.New("invalid signature")
	// ErrMalformed is returned for strings that are not JWTs.
	ErrMalformed = errors.New("jwt malformed")
)

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	// Timestamp is the issuance time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager returns a TokenManager. A zero ttl means TokenTTL.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = TokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for username, stamped with the current time.
func (m *TokenManager) Issue(username string) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNoSecret
	}

	now := m.now()
	claims := Claims{
		Username:  username,
		Timestamp: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token's signature and expiry and returns its claims.
// Failures are one of ErrNoSecret, ErrExpiredToken, ErrBadSignature,
// ErrMalformed or ErrInvalidToken.
func (m *TokenManager) Verify(tokenStr string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
