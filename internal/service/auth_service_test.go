package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/pkg/jwt"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/testutil"
)

func setupAuthService(t *testing.T) *AuthService {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret", ExpireHours: 24},
	}
	return NewAuthService(repository.NewUserRepository(db), cfg)
}

func TestAuthService_Register(t *testing.T) {
	svc := setupAuthService(t)

	resp, err := svc.Register(&dto.RegisterRequest{
		Username: "newuser",
		Email:    "new@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.UserID)

	user, err := svc.GetUserByID(resp.UserID)
	require.NoError(t, err)
	assert.Equal(t, "newuser", user.Username)
	// 密码只存哈希
	require.NotNil(t, user.PasswordHash)
	assert.NotEqual(t, "password123", *user.PasswordHash)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{
		Username: "user1", Email: "dup@example.com", Password: "password123",
	})
	require.NoError(t, err)

	_, err = svc.Register(&dto.RegisterRequest{
		Username: "user2", Email: "dup@example.com", Password: "password123",
	})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestAuthService_Register_DuplicateUsername(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{
		Username: "sameuser", Email: "a@example.com", Password: "password123",
	})
	require.NoError(t, err)

	_, err = svc.Register(&dto.RegisterRequest{
		Username: "sameuser", Email: "b@example.com", Password: "password123",
	})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestAuthService_Login(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{
		Username: "loginuser", Email: "login@example.com", Password: "password123",
	})
	require.NoError(t, err)

	resp, err := svc.Login(&dto.LoginRequest{
		Email:    "login@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, "loginuser", resp.User.Username)

	// 签发的 token 能解析回用户
	claims, err := jwt.ParseToken(resp.Token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{
		Username: "loginuser", Email: "login@example.com", Password: "password123",
	})
	require.NoError(t, err)

	_, err = svc.Login(&dto.LoginRequest{
		Email:    "login@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Login(&dto.LoginRequest{
		Email:    "nobody@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
