// Package auth adapts an external session source to the application's
// session state store.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"dailypa/internal/models"
	"dailypa/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Hooks are called after the store commits a sign-in or sign-out.
type Hooks struct {
	OnSignedIn  func(ctx context.Context, user *models.User)
	OnSignedOut func(ctx context.Context)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHooks installs sign-in/sign-out hooks.
func WithHooks(h Hooks) Option {
	return func(b *Bridge) { b.hooks = h }
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge is the only writer of the auth state store.
type Bridge struct {
	source SessionSource
	states *store.Store[models.AuthState]
	logger *zap.Logger
	hooks  Hooks
	now    func() time.Time

	refresh singleflight.Group

	mu          sync.Mutex
	started     bool
	unsubscribe func()
}

// NewBridge creates a bridge writing to states.
func NewBridge(source SessionSource, states *store.Store[models.AuthState], logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		source: source,
		states: states,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current auth state.
func (b *Bridge) State() models.AuthState {
	return b.states.Get()
}

// Start loads any existing session once and then follows the source's change
// notifications until Close is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("auth bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	b.states.Set(models.LoadingState())

	// Subscribe first so nothing the source emits during the fetch is lost.
	unsubscribe := b.source.OnAuthStateChange(func(ev Event) {
		b.handleEvent(context.Background(), ev)
	})
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()

	session, err := b.source.GetSession(ctx)
	if err != nil {
		b.logger.Warn("initial session fetch failed", zap.Error(err))
		session = nil
	}
	b.bootstrap(ctx, session)

	if err != nil {
		return &AuthError{Op: "get session", Err: err}
	}
	return nil
}

// Close releases the change-notification subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev Event) {
	b.logger.Debug("auth state change", zap.String("event", string(ev.Type)))
	switch ev.Type {
	case EventSignedOut:
		b.clear(ctx)
	default:
		if ev.Session == nil {
			return
		}
		session := b.withUser(ctx, ev.Session)
		if session.User == nil || session.Expired(b.now()) {
			b.logger.Debug("ignoring unusable session from source", zap.String("event", string(ev.Type)))
			return
		}
		b.commit(ctx, session, ev.Type)
	}
}

// SignIn signs in with email and password.
func (b *Bridge) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	b.setLoading(true)
	session, err := b.source.SignInWithPassword(ctx, email, password)
	if err != nil {
		b.setLoading(false)
		b.logger.Info("sign in rejected", zap.Error(err))
		return nil, &AuthError{Op: "sign in", Err: err}
	}
	if err := b.establish(ctx, "sign in", session, EventSignedIn); err != nil {
		return nil, err
	}
	return session, nil
}

// SignUp registers a new account. When the source requires email confirmation
// the returned user has no session and the store stays signed out.
func (b *Bridge) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	b.setLoading(true)
	user, session, err := b.source.SignUp(ctx, email, password)
	if err != nil {
		b.setLoading(false)
		return nil, &AuthError{Op: "sign up", Err: err}
	}
	if session == nil {
		b.setLoading(false)
		return user, nil
	}
	// The account exists even when its first session is unusable.
	if err := b.establish(ctx, "sign up", session, EventSignedIn); err != nil {
		return user, err
	}
	return user, nil
}

// SignInWithCode exchanges an OAuth authorization code for a session.
func (b *Bridge) SignInWithCode(ctx context.Context, code string) (*models.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &ValidationError{Field: "code", Message: "is required"}
	}

	b.setLoading(true)
	session, err := b.source.ExchangeCode(ctx, code)
	if err != nil {
		b.setLoading(false)
		return nil, &AuthError{Op: "exchange code", Err: err}
	}
	if err := b.establish(ctx, "exchange code", session, EventSignedIn); err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut clears the local state. The store is emptied even when the remote
// call fails; that failure is still returned.
func (b *Bridge) SignOut(ctx context.Context) error {
	var token string
	if s := b.states.Get().Session; s != nil {
		token = s.AccessToken
	}
	defer b.clear(ctx)

	if token == "" {
		return nil
	}
	if err := b.source.SignOut(ctx, token); err != nil {
		b.logger.Warn("remote sign out failed", zap.Error(err))
		return &AuthError{Op: "sign out", Err: err}
	}
	return nil
}

// ResetPassword asks the source to send a recovery email.
func (b *Bridge) ResetPassword(ctx context.Context, email, redirectTo string) error {
	email = normalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if err := b.source.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		return &AuthError{Op: "reset password", Err: err}
	}
	return nil
}

// ChangePassword sets a new password for the signed-in user. It also completes
// a password recovery, since the recovery link yields a session.
func (b *Bridge) ChangePassword(ctx context.Context, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	current := b.states.Get()
	if !current.IsAuthenticatedAt(b.now()) {
		return &AuthError{Op: "change password", Err: ErrGuestSession}
	}

	user, err := b.source.UpdatePassword(ctx, current.Session.AccessToken, newPassword)
	if err != nil {
		return &AuthError{Op: "change password", Err: err}
	}
	if user != nil {
		session := *current.Session
		session.User = user
		b.commit(ctx, &session, EventUserUpdated)
	}
	return nil
}

// RefreshSession exchanges the refresh token for a new session. Concurrent
// calls share one round trip to the source.
func (b *Bridge) RefreshSession(ctx context.Context) (*models.Session, error) {
	v, err, _ := b.refresh.Do("refresh", func() (any, error) {
		current := b.states.Get().Session
		if current == nil || current.RefreshToken == "" {
			return nil, &AuthError{Op: "refresh session", Err: ErrGuestSession}
		}
		session, err := b.source.RefreshSession(ctx, current.RefreshToken)
		if err != nil {
			return nil, &AuthError{Op: "refresh session", Err: err}
		}
		if err := b.establish(ctx, "refresh session", session, EventTokenRefreshed); err != nil {
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session), nil
}

func (b *Bridge) setLoading(loading bool) {
	b.states.Update(func(s models.AuthState) models.AuthState {
		s.IsLoading = loading
		return s
	})
}

// withUser fills in the session's user from the source when it came without one.
func (b *Bridge) withUser(ctx context.Context, session *models.Session) *models.Session {
	if session == nil || session.User != nil || session.AccessToken == "" {
		return session
	}
	user, err := b.source.GetUser(ctx, session.AccessToken)
	if err != nil {
		b.logger.Warn("session user lookup failed", zap.Error(err))
		return session
	}
	cp := *session
	cp.User = user
	return &cp
}

// establish commits a session an operation just obtained. A session that would
// not authenticate leaves the prior state in place and fails the operation.
func (b *Bridge) establish(ctx context.Context, op string, session *models.Session, reason EventType) error {
	session = b.withUser(ctx, session)
	if session == nil || session.User == nil || session.Expired(b.now()) {
		b.setLoading(false)
		return &AuthError{Op: op, Err: ErrUnusableSession}
	}
	b.commit(ctx, session, reason)
	return nil
}

// bootstrap commits whatever session the source already held, or the
// signed-out state when there is none. An event that settled the state while
// the fetch was in flight wins over the fetched session.
func (b *Bridge) bootstrap(ctx context.Context, session *models.Session) {
	session = b.withUser(ctx, session)

	applied := false
	next := b.states.Update(func(s models.AuthState) models.AuthState {
		if !s.IsLoading {
			return s
		}
		applied = true
		return models.SignedInState(session, b.now())
	})
	if applied && next.User != nil && b.hooks.OnSignedIn != nil {
		b.hooks.OnSignedIn(ctx, next.User)
	}
}

func (b *Bridge) commit(ctx context.Context, session *models.Session, reason EventType) {
	session = b.withUser(ctx, session)

	var prev models.AuthState
	next := b.states.Update(func(s models.AuthState) models.AuthState {
		prev = s
		return models.SignedInState(session, b.now())
	})

	switch {
	case next.User != nil:
		if prev.User == nil || prev.User.ID != next.User.ID || reason == EventUserUpdated {
			if b.hooks.OnSignedIn != nil {
				b.hooks.OnSignedIn(ctx, next.User)
			}
		}
	case prev.User != nil:
		if b.hooks.OnSignedOut != nil {
			b.hooks.OnSignedOut(ctx)
		}
	}
}

func (b *Bridge) clear(ctx context.Context) {
	var prev models.AuthState
	b.states.Update(func(s models.AuthState) models.AuthState {
		prev = s
		return models.SignedOutState()
	})
	if prev.User != nil && b.hooks.OnSignedOut != nil {
		b.hooks.OnSignedOut(ctx)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
