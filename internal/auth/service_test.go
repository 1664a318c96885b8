package auth

import (
	"testing"
	"time"

	"course-chat/internal/config"
	"course-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(expiresIn time.Duration) *Service {
	cfg := &config.Config{}
	cfg.JWT.Secret = []byte("test-secret")
	cfg.JWT.ExpiresIn = expiresIn
	return NewService(nil, cfg)
}

func TestTokenRoundTrip(t *testing.T) {
	s := testService(time.Hour)
	user := &models.User{ID: 42, Username: "ana", Email: "ana@x.com"}

	token, err := s.generateToken(user)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, "ana@x.com", claims.Email)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := testService(-time.Minute)
	user := &models.User{ID: 1, Username: "ana", Email: "ana@x.com"}

	token, err := s.generateToken(user)
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTamperedTokenRejected(t *testing.T) {
	s := testService(time.Hour)
	other := testService(time.Hour)
	other.cfg.JWT.Secret = []byte("different-secret")

	user := &models.User{ID: 1, Username: "ana", Email: "ana@x.com"}
	token, err := other.generateToken(user)
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		req     models.RegisterRequest
		wantErr bool
	}{
		{
			name: "valid",
			req:  models.RegisterRequest{Username: "ana", Email: "ana@x.com", Password: "longenough"},
		},
		{
			name:    "missing fields",
			req:     models.RegisterRequest{Username: "ana"},
			wantErr: true,
		},
		{
			name:    "bad email",
			req:     models.RegisterRequest{Username: "ana", Email: "not-an-email", Password: "longenough"},
			wantErr: true,
		},
		{
			name:    "short password",
			req:     models.RegisterRequest{Username: "ana", Email: "ana@x.com", Password: "short"},
			wantErr: true,
		},
		{
			name:    "username too short",
			req:     models.RegisterRequest{Username: "ab", Email: "ana@x.com", Password: "longenough"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRegistration(&tc.req)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
