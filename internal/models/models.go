package models

import "time"

// User represents an identity record issued by the session source.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	FullName  string         `json:"full_name,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session represents a bearer session issued by the session source.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	User         *User     `json:"user,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt means the source did not report one.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !s.ExpiresAt.After(now)
}

// AuthState is the value held by the session state store.
// User and Session are either both set or both nil.
type AuthState struct {
	User      *User
	Session   *Session
	IsLoading bool
}

// SignedOutState returns the empty state.
func SignedOutState() AuthState {
	return AuthState{}
}

// LoadingState returns the empty state flagged as bootstrapping.
func LoadingState() AuthState {
	return AuthState{IsLoading: true}
}

// SignedInState builds a state from a session. A session without a user, or an
// expired session, collapses to the signed-out state.
func SignedInState(session *Session, now time.Time) AuthState {
	if session == nil || session.User == nil || session.Expired(now) {
		return SignedOutState()
	}
	return AuthState{User: session.User, Session: session}
}

// IsAuthenticated reports whether a live session is present.
func (s AuthState) IsAuthenticated() bool {
	return s.IsAuthenticatedAt(time.Now())
}

// IsAuthenticatedAt reports whether a session is present and not expired at now.
func (s AuthState) IsAuthenticatedAt(now time.Time) bool {
	return s.Session != nil && s.User != nil && !s.Session.Expired(now)
}

// Profile is the locally persisted user profile. It outlives the session and
// falls back to the guest placeholder when nobody is signed in.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

// GuestProfile returns the placeholder used before sign-in and after sign-out.
func GuestProfile() Profile {
	return Profile{ID: "guest", Email: "", FullName: "Guest", AvatarURL: ""}
}

// Expense represents a financial expense record.
type Expense struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
}
