// Package auth validates account credentials presented at login. The
// cryptographic handshake itself is out of scope; the rest of the server only
// consumes the resulting logged-in identity.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoSubject    = errors.New("auth: token has no subject")
)

// VerifyToken checks a bearer token against the server secret and returns the
// username it asserts.
func VerifyToken(secret, token string) (string, error) {
	if secret == "" || token == "" {
		return "", ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrNoSubject
	}
	return subject, nil
}

// MintToken issues a token for a username, for tooling and tests.
func MintToken(secret, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
	})
	return token.SignedString([]byte(secret))
}
