package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/testutil"
)

func setupUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	svc := NewUserService(repository.NewUserRepository(db), nil, &config.Config{})
	return svc, db
}

func TestUserService_GetProfile(t *testing.T) {
	svc, db := setupUserService(t)
	user := testutil.TestUser(t, db)

	info, err := svc.GetProfile(user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, info.ID)
	assert.Equal(t, user.Username, info.Username)
	assert.Equal(t, *user.Email, info.Email)
}

func TestUserService_GetProfile_NotFound(t *testing.T) {
	svc, _ := setupUserService(t)

	_, err := svc.GetProfile(99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserService_UpdateProfile(t *testing.T) {
	svc, db := setupUserService(t)
	user := testutil.TestUser(t, db)

	newName := "renamed_user"
	avatar := "https://cdn.example.com/a.png"
	info, err := svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{
		Username: &newName,
		Avatar:   &avatar,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed_user", info.Username)
	assert.Equal(t, avatar, info.AvatarURL)
}

func TestUserService_UpdateProfile_UsernameTaken(t *testing.T) {
	svc, db := setupUserService(t)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)

	_, err := svc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{
		Username: &other.Username,
	})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestUserService_UploadAvatar_NoOSS(t *testing.T) {
	svc, db := setupUserService(t)
	user := testutil.TestUser(t, db)

	_, err := svc.UploadAvatar(user.ID, strings.NewReader("img-bytes"), "avatar.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OSS")
}
