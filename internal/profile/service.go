// Package profile lets users edit their own account details and the
// desktop preferences stored with them.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/models"

	"go.uber.org/zap"
)

// EventPreferencesChanged is pushed to the user's other clients when their
// preferences change.
const EventPreferencesChanged = "preferences_changed"

const (
	maxNameLength      = 50
	maxBioLength       = 1000
	maxAvatarURLLength = 255
	maxEmailLength     = 254
	maxThemeLength     = 50
	maxSettingsBytes   = 16 << 10
)

var themePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, arg models.ProfileUpdate) (*models.User, error)
	GetPreferences(ctx context.Context, id int64) (*models.Preferences, error)
	UpdatePreferences(ctx context.Context, id int64, arg models.Preferences) (*models.Preferences, error)
}

type Notifier interface {
	Publish(userID int64, eventType string, payload interface{})
}

type Service struct {
	repo   Repository
	audit  audit.Sink
	events Notifier
	log    *zap.Logger
}

func NewService(repo Repository, sink audit.Sink, events Notifier, log *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("profile: repository is required")
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, audit: sink, events: events, log: log}, nil
}

func (s *Service) record(ctx context.Context, actor models.Actor, action string, err error, details map[string]any) {
	e := audit.Entry{
		Actor:   actor,
		Action:  action,
		Target:  strconv.FormatInt(actor.UserID, 10),
		Outcome: models.OutcomeSuccess,
		Details: details,
	}
	if err != nil {
		e.Outcome = models.OutcomeFailure
		e.Message = err.Error()
		if apperr.IsInternal(err) {
			e.Message = "internal error"
		}
	}
	s.audit.Record(ctx, e)
}

func (s *Service) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	return user, nil
}

// Update changes the caller's own profile fields.
func (s *Service) Update(ctx context.Context, actor models.Actor, upd models.ProfileUpdate) (user *models.User, err error) {
	defer func() {
		s.record(ctx, actor, audit.ActionProfileUpdated, err, profileDetails(upd))
	}()

	if err := validateProfile(&upd); err != nil {
		return nil, err
	}
	return s.repo.UpdateProfile(ctx, actor.UserID, upd)
}

func (s *Service) Preferences(ctx context.Context, userID int64) (*models.Preferences, error) {
	return s.repo.GetPreferences(ctx, userID)
}

// UpdatePreferences stores the theme and settings. An empty theme or a nil
// settings map leaves the stored value alone.
func (s *Service) UpdatePreferences(ctx context.Context, actor models.Actor, prefs models.Preferences) (out *models.Preferences, err error) {
	defer func() {
		s.record(ctx, actor, audit.ActionPreferencesUpdated, err, map[string]any{
			"theme":    prefs.Theme,
			"settings": prefs.Settings != nil,
		})
	}()

	prefs.Theme = strings.TrimSpace(prefs.Theme)
	if prefs.Theme != "" && (len(prefs.Theme) > maxThemeLength || !themePattern.MatchString(prefs.Theme)) {
		return nil, fmt.Errorf("%w: theme must be lowercase letters, digits and dashes", apperr.ErrInvalidArgument)
	}
	if prefs.Settings != nil {
		raw, err := json.Marshal(prefs.Settings)
		if err != nil {
			return nil, fmt.Errorf("%w: settings are not valid JSON", apperr.ErrInvalidArgument)
		}
		if len(raw) > maxSettingsBytes {
			return nil, fmt.Errorf("%w: settings exceed %d bytes", apperr.ErrInvalidArgument, maxSettingsBytes)
		}
	}

	out, err = s.repo.UpdatePreferences(ctx, actor.UserID, prefs)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(actor.UserID, EventPreferencesChanged, out)
	}
	return out, nil
}

func validateProfile(upd *models.ProfileUpdate) error {
	for _, f := range []struct {
		name  string
		value *string
		max   int
	}{
		{"first_name", upd.FirstName, maxNameLength},
		{"last_name", upd.LastName, maxNameLength},
		{"bio", upd.Bio, maxBioLength},
	} {
		if f.value == nil {
			continue
		}
		*f.value = strings.TrimSpace(*f.value)
		if utf8.RuneCountInString(*f.value) > f.max {
			return fmt.Errorf("%w: %s is longer than %d characters", apperr.ErrInvalidArgument, f.name, f.max)
		}
	}

	if upd.Email != nil {
		*upd.Email = strings.TrimSpace(*upd.Email)
		e := *upd.Email
		if e != "" && (len(e) > maxEmailLength || !strings.Contains(e, "@") || strings.ContainsAny(e, " \t\r\n")) {
			return fmt.Errorf("%w: invalid email address", apperr.ErrInvalidArgument)
		}
	}

	if upd.AvatarURL != nil {
		*upd.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
		if a := *upd.AvatarURL; a != "" {
			u, err := url.Parse(a)
			if err != nil || len(a) > maxAvatarURLLength || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("%w: avatar_url must be an http or https URL", apperr.ErrInvalidArgument)
			}
		}
	}
	return nil
}

func profileDetails(upd models.ProfileUpdate) map[string]any {
	d := map[string]any{}
	for name, v := range map[string]*string{
		"email":      upd.Email,
		"first_name": upd.FirstName,
		"last_name":  upd.LastName,
		"avatar_url": upd.AvatarURL,
		"bio":        upd.Bio,
	} {
		if v != nil {
			d[name] = true
		}
	}
	return d
}
