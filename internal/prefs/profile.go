package prefs

import (
	"context"
	"strings"

	"dailypa/internal/auth"
	"dailypa/internal/models"
	"dailypa/internal/persist"

	"go.uber.org/zap"
)

// ProfileUpdate carries the fields to overwrite. Nil fields are left alone.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty"`
	FullName  *string `json:"fullName,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// ProfileStore is the persisted local profile. It is never deleted; sign-out
// resets it to the guest placeholder.
type ProfileStore struct {
	slice  *persist.Slice[models.Profile]
	logger *zap.Logger
}

// NewProfileStore creates the store over kv. Call Hydrate before use.
func NewProfileStore(kv persist.KV, logger *zap.Logger) (*ProfileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	slice, err := persist.NewSlice(kv, persist.KeyProfile, models.GuestProfile(), logger)
	if err != nil {
		return nil, err
	}
	return &ProfileStore{slice: slice, logger: logger.Named("profile")}, nil
}

// Hydrate loads the stored profile, or the guest placeholder.
func (p *ProfileStore) Hydrate(ctx context.Context) models.Profile {
	return p.slice.Hydrate(ctx)
}

// Profile returns the current profile.
func (p *ProfileStore) Profile() models.Profile {
	return p.slice.Get()
}

// IsGuest reports whether the profile is the guest placeholder.
func (p *ProfileStore) IsGuest() bool {
	return p.slice.Get().ID == models.GuestProfile().ID
}

// Update shallow-merges u into the profile.
func (p *ProfileStore) Update(u ProfileUpdate) (models.Profile, error) {
	if u.FullName != nil && strings.TrimSpace(*u.FullName) == "" {
		return p.Profile(), &auth.ValidationError{Field: "fullName", Message: "must not be blank"}
	}
	return p.slice.Merge(u)
}

// SignedIn copies identity fields from a freshly signed-in user.
func (p *ProfileStore) SignedIn(user *models.User) {
	if user == nil {
		return
	}
	patch := map[string]any{"id": user.ID, "email": user.Email}
	if name := displayName(user); name != "" {
		patch["fullName"] = name
	}
	if avatar := avatarURL(user); avatar != "" {
		patch["avatarUrl"] = avatar
	}
	if _, err := p.slice.Merge(patch); err != nil {
		p.logger.Warn("profile sync failed", zap.Error(err))
	}
}

// Reset restores the guest placeholder.
func (p *ProfileStore) Reset() models.Profile {
	return p.slice.Reset()
}

// Hooks returns auth bridge hooks keeping the profile in step with sign-in state.
func (p *ProfileStore) Hooks() auth.Hooks {
	return auth.Hooks{
		OnSignedIn:  func(_ context.Context, u *models.User) { p.SignedIn(u) },
		OnSignedOut: func(context.Context) { p.Reset() },
	}
}

// Close stops persisting changes.
func (p *ProfileStore) Close() { p.slice.Close() }

func displayName(u *models.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	for _, k := range []string{"full_name", "name"} {
		if v, ok := u.Metadata[k].(string); ok && v != "" {
			return v
		}
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return ""
}

func avatarURL(u *models.User) string {
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	if v, ok := u.Metadata["avatar_url"].(string); ok {
		return v
	}
	return ""
}
