package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("access-secret", "refresh-secret")

	token, err := m.GenerateAccessToken("user-123")
	require.NoError(t, err)

	userID, err := m.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestRefreshTokenNotValidAsAccessToken(t *testing.T) {
	m := NewTokenManager("access-secret", "refresh-secret")

	refresh, err := m.GenerateRefreshToken("user-123")
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m1 := NewTokenManager("secret-one", "refresh")
	m2 := NewTokenManager("secret-two", "refresh")

	token, err := m1.GenerateAccessToken("user-123")
	require.NoError(t, err)

	_, err = m2.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewTokenManager("access-secret", "refresh-secret")

	_, err := m.VerifyAccessToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)

	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("hunter23", hash))
}
