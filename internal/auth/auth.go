// Package auth validates and issues the HS256 bearer tokens that gate the
// websocket endpoints. The user id travels in the standard `sub` claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hailam/chessserve/internal/game"
)

// ErrAuthFailed covers every token rejection: malformed, bad signature,
// expired, or carrying an unusable subject. Callers get no finer detail.
var ErrAuthFailed = errors.New("auth: invalid token")

// TokenAuthenticator validates HS256 tokens signed with a shared secret.
type TokenAuthenticator struct {
	secret []byte
}

// NewTokenAuthenticator builds an authenticator around the shared secret.
func NewTokenAuthenticator(secret []byte) *TokenAuthenticator {
	return &TokenAuthenticator{secret: secret}
}

// Authenticate parses and verifies the token and returns the user id from
// its subject claim.
func (a *TokenAuthenticator) Authenticate(token string) (game.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrAuthFailed
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", ErrAuthFailed
	}
	id, err := game.ParseUserID(claims.Subject)
	if err != nil {
		return "", ErrAuthFailed
	}
	return id, nil
}

// Issuer mints tokens for the dev login endpoint with the same secret the
// authenticator verifies against.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an issuer. ttl bounds token lifetime.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue signs a token whose subject is the given user id.
func (i *Issuer) Issue(userID game.UserID, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
