package auth

import (
	"context"

	"dailypa/internal/models"
)

// EventType names a session source change notification.
type EventType string

const (
	EventInitialSession   EventType = "INITIAL_SESSION"
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventUserUpdated      EventType = "USER_UPDATED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// Event is a change notification. Session is nil for EventSignedOut.
type Event struct {
	Type    EventType
	Session *models.Session
}

// SessionSource is the identity provider the bridge adapts. Implementations
// deliver change notifications synchronously, in the order they happen.
type SessionSource interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	// SignUp returns a nil session when the provider requires email confirmation.
	SignUp(ctx context.Context, email, password string) (*models.User, *models.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ExchangeCode(ctx context.Context, code string) (*models.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	// GetSession returns the session the source currently holds, or nil.
	GetSession(ctx context.Context) (*models.Session, error)
	GetUser(ctx context.Context, accessToken string) (*models.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) (*models.User, error)
	OnAuthStateChange(fn func(Event)) (unsubscribe func())
}
