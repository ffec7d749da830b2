package guard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"
	"dailypa/internal/token"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// rotationGrace is how long a rotated refresh token still resolves to the
// session that replaced it, for requests that raced the rotation.
const rotationGrace = 10 * time.Second

// SourceFunc returns a session source for one request, seeded with the
// session its cookies carry.
type SourceFunc func(r *http.Request, seed *models.Session) auth.SessionSource

type ctxKey struct{}

// State returns the auth state resolved for the request, or signed out.
func State(ctx context.Context) models.AuthState {
	if s, ok := ctx.Value(ctxKey{}).(models.AuthState); ok {
		return s
	}
	return models.SignedOutState()
}

// UserID returns the signed-in user's id, or the guest id when the request has
// no session (only reachable with the guard bypassed).
func UserID(ctx context.Context) string {
	if u := State(ctx).User; u != nil {
		return u.ID
	}
	return models.GuestProfile().ID
}

// WithState attaches s to ctx.
func WithState(ctx context.Context, s models.AuthState) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// Guard resolves request sessions from cookies and enforces area rules.
type Guard struct {
	signer  *token.Signer
	sources SourceFunc
	cookies Cookies
	devSkip bool
	logger  *zap.Logger
	now     func() time.Time

	refreshes singleflight.Group
	mu        sync.Mutex
	rotated   map[string]rotation
}

type rotation struct {
	session *models.Session
	at      time.Time
}

// New creates a guard. With a configured signer, access tokens are verified
// locally; otherwise the source is asked for the user behind each token.
func New(signer *token.Signer, sources SourceFunc, cookies Cookies, devSkip bool, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if devSkip {
		logger.Warn("route guards disabled by configuration")
	}
	return &Guard{
		signer:  signer,
		sources: sources,
		cookies: cookies,
		devSkip: devSkip,
		logger:  logger.Named("guard"),
		now:     time.Now,
		rotated: make(map[string]rotation),
	}
}

// DevSkip reports whether the guards are bypassed.
func (g *Guard) DevSkip() bool { return g.devSkip }

// Session resolves the caller's session once and attaches it to the request.
func (g *Guard) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, g.attach(w, r))
	})
}

// Protected redirects callers without a live session to the sign-in page.
func (g *Guard) Protected(next http.Handler) http.Handler {
	return g.enforce(Protected, next)
}

// PublicOnly redirects callers with a live session to the landing page.
func (g *Guard) PublicOnly(next http.Handler) http.Handler {
	return g.enforce(PublicOnly, next)
}

func (g *Guard) enforce(kind Kind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = g.attach(w, r)
		state := State(r.Context())
		d := Evaluate(kind, state.IsAuthenticatedAt(g.now()), g.devSkip)
		if d.Action == Redirect {
			g.logger.Debug("guard redirect",
				zap.Stringer("kind", kind),
				zap.String("path", r.URL.Path),
				zap.String("location", d.Location))
			if r.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", d.Location)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) attach(w http.ResponseWriter, r *http.Request) *http.Request {
	if _, ok := r.Context().Value(ctxKey{}).(models.AuthState); ok {
		return r
	}
	state := g.Resolve(w, r)
	return r.WithContext(WithState(r.Context(), state))
}

// Resolve reads the session cookies and returns the caller's auth state. An
// expired access token with a refresh token is renewed once and the cookies
// rewritten; an unusable session clears them.
func (g *Guard) Resolve(w http.ResponseWriter, r *http.Request) models.AuthState {
	seed := SessionFromCookies(r)
	if seed == nil {
		return models.SignedOutState()
	}
	ctx := r.Context()
	now := g.now()

	// Live access token: nothing to renew.
	if seed.AccessToken != "" {
		if session, ok := g.verify(ctx, r, seed); ok {
			return models.SignedInState(session, now)
		}
	}
	if seed.RefreshToken == "" {
		g.cookies.Clear(w)
		return models.SignedOutState()
	}

	// Rolling session: trade the refresh token for a new pair.
	session, err := g.refresh(ctx, r, seed.RefreshToken)
	if err != nil {
		g.logger.Info("session refresh rejected", zap.Error(err))
		g.cookies.Clear(w)
		return models.SignedOutState()
	}
	g.cookies.Write(w, session)
	return models.SignedInState(session, now)
}

// refresh renews the session behind refreshToken. Concurrent requests carrying
// the same token share one round trip, and a request that arrives shortly after
// the token was rotated gets the session that replaced it.
func (g *Guard) refresh(ctx context.Context, r *http.Request, refreshToken string) (*models.Session, error) {
	if s := g.recentRotation(refreshToken); s != nil {
		return s, nil
	}
	v, err, _ := g.refreshes.Do(refreshToken, func() (any, error) {
		if s := g.recentRotation(refreshToken); s != nil {
			return s, nil
		}
		session, err := g.sources(r, nil).RefreshSession(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if session.User == nil {
			if u, err := g.sources(r, session).GetUser(ctx, session.AccessToken); err == nil {
				session.User = u
			}
		}
		g.remember(refreshToken, session)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers share the result; hand each its own copy.
	s := *v.(*models.Session)
	return &s, nil
}

func (g *Guard) recentRotation(refreshToken string) *models.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	rot, ok := g.rotated[refreshToken]
	if !ok || g.now().Sub(rot.at) > rotationGrace {
		return nil
	}
	s := *rot.session
	return &s
}

func (g *Guard) remember(refreshToken string, session *models.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, rot := range g.rotated {
		if now.Sub(rot.at) > rotationGrace {
			delete(g.rotated, k)
		}
	}
	g.rotated[refreshToken] = rotation{session: session, at: now}
}

func (g *Guard) verify(ctx context.Context, r *http.Request, seed *models.Session) (*models.Session, bool) {
	s := *seed
	if g.signer.Configured() {
		claims, err := g.signer.Verify(seed.AccessToken)
		if err != nil {
			if !token.IsExpired(err) {
				g.logger.Info("access token rejected", zap.Error(err))
			}
			return nil, false
		}
		s.ExpiresAt = claims.ExpiresAt
		s.UserID = claims.UserID
		s.User = userFromClaims(claims)
		return &s, true
	}

	u, err := g.sources(r, seed).GetUser(ctx, seed.AccessToken)
	if err != nil {
		return nil, false
	}
	s.UserID = u.ID
	s.User = u
	return &s, true
}

func userFromClaims(c token.Claims) *models.User {
	u := &models.User{ID: c.UserID, Email: c.Email, Metadata: c.UserMetadata}
	if name, ok := c.UserMetadata["full_name"].(string); ok {
		u.FullName = name
	}
	if avatar, ok := c.UserMetadata["avatar_url"].(string); ok {
		u.AvatarURL = avatar
	}
	return u
}
