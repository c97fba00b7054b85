package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chessserve/internal/game"
)

var secret = []byte("test-secret")

func TestIssueAndAuthenticate(t *testing.T) {
	userID := game.NewUserID()
	issuer := NewIssuer(secret, time.Hour)

	token, err := issuer.Issue(userID, time.Now())
	require.NoError(t, err)

	got, err := NewTokenAuthenticator(secret).Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	token, err := NewIssuer(secret, time.Hour).Issue(game.NewUserID(), time.Now())
	require.NoError(t, err)

	_, err = NewTokenAuthenticator([]byte("other-secret")).Authenticate(token)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateExpired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	token, err := NewIssuer(secret, time.Hour).Issue(game.NewUserID(), issued)
	require.NoError(t, err)

	_, err = NewTokenAuthenticator(secret).Authenticate(token)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateGarbage(t *testing.T) {
	a := NewTokenAuthenticator(secret)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := a.Authenticate(tok)
		assert.ErrorIs(t, err, ErrAuthFailed, "token %q", tok)
	}
}

func TestAuthenticateBadSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "not-a-ulid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = NewTokenAuthenticator(secret).Authenticate(token)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateRejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   game.NewUserID().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenAuthenticator(secret).Authenticate(token)
	assert.ErrorIs(t, err, ErrAuthFailed)
}
