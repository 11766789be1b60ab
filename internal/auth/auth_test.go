package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/karu/internal/models"
)

func TestSignAndValidate(t *testing.T) {
	s := New("secret")
	uid := models.NewID()

	token, err := s.SignToken(uid, "user", time.Hour)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uid, claims.UserID())
	assert.Equal(t, "user", claims.Role)
}

func TestValidateRejects(t *testing.T) {
	s := New("secret")
	uid := models.NewID()

	expired, err := s.SignToken(uid, "user", -time.Minute)
	require.NoError(t, err)
	otherKey, err := New("other").SignToken(uid, "user", time.Hour)
	require.NoError(t, err)
	badSubject, err := s.SignToken("42", "user", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: uid}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"non-hex subject", badSubject},
		{"unsigned", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
