package profile

import (
	"context"
	"strings"
	"testing"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	users map[int64]*models.User
	prefs map[int64]*models.Preferences
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[int64]*models.User{1: {ID: 1, Username: "alice", Theme: "ember-blue"}},
		prefs: map[int64]*models.Preferences{1: {Theme: "ember-blue", Settings: map[string]interface{}{}}},
	}
}

func (f *fakeRepo) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func set(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	c := *v
	*dst = &c
}

func (f *fakeRepo) UpdateProfile(_ context.Context, id int64, arg models.ProfileUpdate) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	set(&u.Email, arg.Email)
	set(&u.FirstName, arg.FirstName)
	set(&u.LastName, arg.LastName)
	set(&u.AvatarURL, arg.AvatarURL)
	set(&u.Bio, arg.Bio)
	c := *u
	return &c, nil
}

func (f *fakeRepo) GetPreferences(_ context.Context, id int64) (*models.Preferences, error) {
	p, ok := f.prefs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakeRepo) UpdatePreferences(_ context.Context, id int64, arg models.Preferences) (*models.Preferences, error) {
	p, ok := f.prefs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if arg.Theme != "" {
		p.Theme = arg.Theme
	}
	if arg.Settings != nil {
		p.Settings = arg.Settings
	}
	c := *p
	return &c, nil
}

type recordingSink struct{ entries []audit.Entry }

func (r *recordingSink) Record(_ context.Context, e audit.Entry) { r.entries = append(r.entries, e) }

type event struct {
	userID    int64
	eventType string
}

type recordingNotifier struct{ events []event }

func (n *recordingNotifier) Publish(userID int64, eventType string, _ interface{}) {
	n.events = append(n.events, event{userID, eventType})
}

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	sink   *recordingSink
	events *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newFakeRepo(), sink: &recordingSink{}, events: &recordingNotifier{}}
	svc, err := NewService(f.repo, f.sink, f.events, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

var alice = models.Actor{UserID: 1, Username: "alice"}

func str(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Update(ctx, alice, models.ProfileUpdate{
		FirstName: str("  Alice "),
		Email:     str("alice@example.com"),
		AvatarURL: str("https://example.com/a.png"),
	})
	require.NoError(t, err)
	require.Equal(t, "Alice", *user.FirstName)
	require.Equal(t, "alice@example.com", *user.Email)
	require.Nil(t, user.Bio)

	user, err = f.svc.Update(ctx, alice, models.ProfileUpdate{FirstName: str("")})
	require.NoError(t, err)
	require.Nil(t, user.FirstName)
	require.Equal(t, "alice@example.com", *user.Email)

	require.Len(t, f.sink.entries, 2)
	require.Equal(t, audit.ActionProfileUpdated, f.sink.entries[0].Action)
	require.Equal(t, models.OutcomeSuccess, f.sink.entries[0].Outcome)
	require.Equal(t, "1", f.sink.entries[0].Target)
	require.Equal(t, map[string]any{"first_name": true, "email": true, "avatar_url": true}, f.sink.entries[0].Details)
}

func TestUpdateProfileValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, upd := range map[string]models.ProfileUpdate{
		"LongName":    {LastName: str(strings.Repeat("x", maxNameLength+1))},
		"LongBio":     {Bio: str(strings.Repeat("b", maxBioLength+1))},
		"BadEmail":    {Email: str("not-an-email")},
		"SpacedEmail": {Email: str("a b@example.com")},
		"FileAvatar":  {AvatarURL: str("file:///etc/passwd")},
		"JSAvatar":    {AvatarURL: str("javascript:alert(1)")},
		"LongAvatar":  {AvatarURL: str("https://example.com/" + strings.Repeat("a", maxAvatarURLLength))},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, alice, upd)
			require.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}

	for _, e := range f.sink.entries {
		require.Equal(t, models.OutcomeFailure, e.Outcome)
	}
	require.Nil(t, f.repo.users[1].LastName)
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)

	user, err := f.svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	_, err = f.svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdatePreferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prefs, err := f.svc.UpdatePreferences(ctx, alice, models.Preferences{
		Theme:    "midnight",
		Settings: map[string]interface{}{"wallpaper": "dunes.jpg"},
	})
	require.NoError(t, err)
	require.Equal(t, "midnight", prefs.Theme)
	require.Equal(t, []event{{1, EventPreferencesChanged}}, f.events.events)

	prefs, err = f.svc.UpdatePreferences(ctx, alice, models.Preferences{Theme: "ember-red"})
	require.NoError(t, err)
	require.Equal(t, "dunes.jpg", prefs.Settings["wallpaper"])

	got, err := f.svc.Preferences(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "ember-red", got.Theme)

	_, err = f.svc.UpdatePreferences(ctx, alice, models.Preferences{Theme: "Bad Theme!"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.svc.UpdatePreferences(ctx, alice, models.Preferences{
		Settings: map[string]interface{}{"blob": strings.Repeat("z", maxSettingsBytes)},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.Equal(t, "ember-red", f.repo.prefs[1].Theme)
	require.Len(t, f.events.events, 2)

	last := f.sink.entries[len(f.sink.entries)-1]
	require.Equal(t, audit.ActionPreferencesUpdated, last.Action)
	require.Equal(t, models.OutcomeFailure, last.Outcome)
}
