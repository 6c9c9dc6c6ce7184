package chat

import (
	"strings"

	"github.com/Rrens/healthchat/internal/domain"
)

// Settings are the per-session preferences that used to live in global state
type Settings struct {
	Model    string `json:"model"`
	Theme    string `json:"theme"`
	Language string `json:"language"`
}

// SettingsPatch updates the non-nil fields of Settings
type SettingsPatch struct {
	Model    *string `json:"model" validate:"omitempty,min=1,max=64"`
	Theme    *string `json:"theme" validate:"omitempty,oneof=light dark system"`
	Language *string `json:"language" validate:"omitempty,min=2,max=10"`
}

func (s Settings) apply(p SettingsPatch) Settings {
	if p.Model != nil && strings.TrimSpace(*p.Model) != "" {
		s.Model = strings.TrimSpace(*p.Model)
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	return s
}

// Session identifies who a Store works for
type Session struct {
	// Key is unique per session: the user ID, or the guest ID for guests
	Key           string
	UserID        string
	Email         string
	Authenticated bool
}

// Scope namespaces Key by session kind so user and guest IDs never collide
func (s Session) Scope() string {
	if s.Authenticated {
		return "user:" + s.Key
	}
	return "guest:" + s.Key
}

// UserSession returns the session of a signed-in user
func UserSession(identity domain.Identity) Session {
	return Session{
		Key:           identity.UserID,
		UserID:        identity.UserID,
		Email:         identity.Email,
		Authenticated: true,
	}
}

// GuestSession returns an unauthenticated session; guest data is owned by domain.GuestUserID
func GuestSession(guestID string) Session {
	return Session{
		Key:    guestID,
		UserID: domain.GuestUserID,
	}
}
