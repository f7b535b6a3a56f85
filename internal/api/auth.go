package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is the iss claim of tokens minted by NewToken.
const tokenIssuer = "radiolink"

// ErrEmptySecret is returned when no signing secret is configured.
var ErrEmptySecret = errors.New("api: JWT secret is empty")

// NewToken mints an HS256 bearer token for the control routes.
//
// Parameters:
//   - secret: security.jwt.secret
//   - subject: Who the token is for (recorded in request logs)
//   - ttl: Token lifetime
//
// Returns:
//   - string: Signed token
//   - error: ErrEmptySecret, or a signing failure
func NewToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token and returns its subject. Tokens must
// carry an expiry.
func ParseToken(secret, raw string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
