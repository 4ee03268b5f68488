package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAccessAndRefreshUseSeparateSecrets(t *testing.T) {
	m := NewJWTManager("access", "refresh", time.Minute, time.Hour)

	access, aexp, err := m.GenerateAccessToken(42, "sid-1")
	require.NoError(t, err)
	refresh, rexp, err := m.GenerateRefreshToken(42, "sid-1")
	require.NoError(t, err)
	assert.True(t, rexp.After(aexp))

	claims, err := m.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.AccountID)
	assert.Equal(t, "sid-1", claims.SessionID)

	_, err = m.ParseAccessToken(refresh)
	assert.Error(t, err)
	_, err = m.ParseRefreshToken(access)
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	m := NewJWTManager("access", "refresh", -time.Minute, time.Hour)
	tok, _, err := m.GenerateAccessToken(1, "s")
	require.NoError(t, err)
	_, err = m.ParseAccessToken(tok)
	assert.Error(t, err)
}

func TestStudentPhotoPath(t *testing.T) {
	assert.Equal(t, "students/7/photo-abc.png", StudentPhotoPath(7, "abc", "Me.PNG"))
	assert.Equal(t, "https://storage.googleapis.com/b/students/7/photo-abc.png", PublicURL("b", "students/7/photo-abc.png"))
}
