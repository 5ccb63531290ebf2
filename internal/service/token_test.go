package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenManager_ParseAccess(t *testing.T) {
	m := NewTokenManager("test-secret")
	userID := uuid.New()

	t.Run("valid token", func(t *testing.T) {
		token := sign(t, "test-secret", jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  userID.String(),
			"role": "client",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		id, role, err := m.ParseAccess(token)
		require.NoError(t, err)
		assert.Equal(t, userID, id)
		assert.Equal(t, "client", role)
	})

	t.Run("expired token", func(t *testing.T) {
		token := sign(t, "test-secret", jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID.String(),
			"exp": time.Now().Add(-time.Minute).Unix(),
		})

		_, _, err := m.ParseAccess(token)
		assert.Error(t, err)
	})

	t.Run("missing exp", func(t *testing.T) {
		token := sign(t, "test-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.String()})

		_, _, err := m.ParseAccess(token)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := sign(t, "other-secret", jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID.String(),
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, _, err := m.ParseAccess(token)
		assert.Error(t, err)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		token := sign(t, "test-secret", jwt.SigningMethodHS512, jwt.MapClaims{
			"sub": userID.String(),
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, _, err := m.ParseAccess(token)
		assert.Error(t, err)
	})
}
