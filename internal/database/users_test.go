package database

import (
	"context"
	"testing"

	"emberframe/internal/apperr"
	"emberframe/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func createRandomUser(t *testing.T, quota int64) *models.User {
	t.Helper()

	user, err := testStore.CreateUser(context.Background(), models.NewUser{
		Username:          "user_" + uuid.NewString()[:8],
		PasswordHash:      "$2a$10$notarealhashnotarealhashnotarealhashnotarealhash12",
		StorageQuotaBytes: quota,
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	user := createRandomUser(t, 1000)

	require.True(t, user.IsActive)
	require.False(t, user.IsAdmin)
	require.Equal(t, int64(1000), user.StorageQuotaBytes)
	require.Zero(t, user.StorageUsedBytes)

	found, err := testStore.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, user.ID, found.ID)
	require.NotEmpty(t, found.PasswordHash)

	byID, err := testStore.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Username, byID.Username)

	missing, err := testStore.GetUserByUsername(ctx, "nonexistent")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCreateUserDuplicate(t *testing.T) {
	user := createRandomUser(t, 1000)

	_, err := testStore.CreateUser(context.Background(), models.NewUser{
		Username:          user.Username,
		PasswordHash:      "x",
		StorageQuotaBytes: 1,
	})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	user := createRandomUser(t, 1000)

	quota := int64(5000)
	inactive := false
	updated, err := testStore.UpdateUser(ctx, user.ID, models.UserUpdate{StorageQuotaBytes: &quota, IsActive: &inactive})
	require.NoError(t, err)
	require.Equal(t, quota, updated.StorageQuotaBytes)
	require.False(t, updated.IsActive)
	require.False(t, updated.IsAdmin)

	_, err = testStore.UpdateUser(ctx, -1, models.UserUpdate{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReserveStorage(t *testing.T) {
	ctx := context.Background()
	user := createRandomUser(t, 100)

	ok, err := testStore.ReserveStorage(ctx, user.ID, 60)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = testStore.ReserveStorage(ctx, user.ID, 41)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = testStore.ReserveStorage(ctx, user.ID, 40)
	require.NoError(t, err)
	require.True(t, ok)

	used, quota, err := testStore.GetUserStorage(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), used)
	require.Equal(t, int64(100), quota)

	require.NoError(t, testStore.UpdateUserStorage(ctx, user.ID, -500))
	used, _, err = testStore.GetUserStorage(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, used)
}

func TestCountUsers(t *testing.T) {
	ctx := context.Background()
	createRandomUser(t, 10)

	total, active, err := testStore.CountUsers(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, total, int64(1))
	require.LessOrEqual(t, active, total)

	ids, err := testStore.ListUserIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, int(active))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	user := createRandomUser(t, 1000)
	require.Equal(t, "ember-blue", user.Theme)
	require.Nil(t, user.FirstName)

	first, bio := "Ada", "Writes engines."
	email := user.Username + "@example.com"
	updated, err := testStore.UpdateProfile(ctx, user.ID, models.ProfileUpdate{
		Email:     &email,
		FirstName: &first,
		Bio:       &bio,
	})
	require.NoError(t, err)
	require.Equal(t, email, *updated.Email)
	require.Equal(t, first, *updated.FirstName)
	require.Equal(t, bio, *updated.Bio)
	require.Nil(t, updated.LastName)

	empty := ""
	updated, err = testStore.UpdateProfile(ctx, user.ID, models.ProfileUpdate{Bio: &empty})
	require.NoError(t, err)
	require.Nil(t, updated.Bio)
	require.Equal(t, first, *updated.FirstName)

	other := createRandomUser(t, 1000)
	_, err = testStore.UpdateProfile(ctx, other.ID, models.ProfileUpdate{Email: &email})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = testStore.UpdateProfile(ctx, -1, models.ProfileUpdate{FirstName: &first})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	user := createRandomUser(t, 1000)

	prefs, err := testStore.GetPreferences(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "ember-blue", prefs.Theme)
	require.Empty(t, prefs.Settings)

	prefs, err = testStore.UpdatePreferences(ctx, user.ID, models.Preferences{
		Theme:    "midnight",
		Settings: map[string]interface{}{"wallpaper": "dunes.jpg", "icon_size": 48.0},
	})
	require.NoError(t, err)
	require.Equal(t, "midnight", prefs.Theme)
	require.Equal(t, "dunes.jpg", prefs.Settings["wallpaper"])

	// A theme-only update keeps the stored settings.
	prefs, err = testStore.UpdatePreferences(ctx, user.ID, models.Preferences{Theme: "ember-red"})
	require.NoError(t, err)
	require.Equal(t, "ember-red", prefs.Theme)
	require.Equal(t, 48.0, prefs.Settings["icon_size"])

	stored, err := testStore.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "ember-red", stored.Theme)

	_, err = testStore.GetPreferences(ctx, -1)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
