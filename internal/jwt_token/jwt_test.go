package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libsync/internal/platform/middleware"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")

func Test_IssueToken(t *testing.T) {
	token, err := jwtService.IssueToken("ops@knihovny.cz", "writer", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@knihovny.cz", claims.Subject)
	assert.Equal(t, "writer", claims.Role)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_IssueToken_RequiresSubject(t *testing.T) {
	_, err := jwtService.IssueToken("", "admin", time.Hour)
	assert.Error(t, err)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.IssueToken("ops", "reader", -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func Test_ValidateToken_WrongKeyOrIssuer(t *testing.T) {
	token, err := NewJWTService("other-key", "test-issuer").IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	token, err = NewJWTService("test-signing-key", "someone-else").IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Adapter(t *testing.T) {
	adapter := NewJWTServiceAdapter(jwtService)

	token, err := jwtService.IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)
	claims, err := adapter.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &middleware.JWTClaims{Subject: "ops", Role: middleware.RoleAdmin}, claims)

	token, err = jwtService.IssueToken("ops", "superuser", time.Hour)
	require.NoError(t, err)
	_, err = adapter.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
