package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorRequiresPassword(t *testing.T) {
	_, err := NewAuthenticator(Options{Enabled: true})
	assert.Error(t, err)

	a, err := NewAuthenticator(Options{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "x")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticate(t *testing.T) {
	a, err := NewAuthenticator(Options{Enabled: true, Username: "guard", Password: "hunter2", JWTSecret: "s3cret"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("guard", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("admin", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, exp, err := a.Authenticate("guard", "hunter2")
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "guard", claims.Username)
	assert.Equal(t, "surveil", claims.Issuer)
}

func TestAuthenticateWithPrehashedPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	a, err := NewAuthenticator(Options{Enabled: true, Password: hash, JWTSecret: "s3cret"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "hunter2")
	assert.NoError(t, err)
}

func TestValidateToken(t *testing.T) {
	m := NewJWTManager("s3cret", time.Hour)
	now := time.Now()
	m.now = func() time.Time { return now }

	token, _, err := m.GenerateToken("guard")
	require.NoError(t, err)

	_, err = NewJWTManager("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	now = now.Add(2 * time.Hour)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsForeignIssuer(t *testing.T) {
	m := NewJWTManager("s3cret", time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: "guard",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = m.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManagerDefaults(t *testing.T) {
	m := NewJWTManager("", 0)
	assert.Equal(t, DefaultTokenExpiry, m.GetExpiry())
	assert.Len(t, m.secretKey, 64)
}
