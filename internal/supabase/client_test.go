package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"
	"dailypa/internal/persist"
	"dailypa/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAnonKey = "anon-key"

// fakeGoTrue answers the subset of GoTrue the client uses.
type fakeGoTrue struct {
	t *testing.T

	mu        sync.Mutex
	refreshed int
	loggedOut []string
	recovered []string
	redirects []string
	verifiers []string
	confirm   bool
	password  string
}

func (f *fakeGoTrue) session(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    time.Now().Add(time.Hour).Unix(),
		"user":          f.user(),
	}
}

func (f *fakeGoTrue) user() map[string]any {
	return map[string]any{
		"id":            "u-1",
		"email":         "ana@example.com",
		"user_metadata": map[string]any{"full_name": "Ana", "avatar_url": "https://img/ana.png"},
		"created_at":    "2025-01-02T03:04:05Z",
	}
}

func (f *fakeGoTrue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("apikey") != testAnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "no api key"})
		return
	}
	var body map[string]string
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch r.Method + " " + r.URL.Path {
	case "POST /auth/v1/token":
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != f.password {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
			writeJSON(w, http.StatusOK, f.session("access-1", "refresh-1"))
		case "refresh_token":
			if body["refresh_token"] != "refresh-1" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token"})
				return
			}
			f.refreshed++
			writeJSON(w, http.StatusOK, f.session("access-2", "refresh-2"))
		case "pkce":
			f.verifiers = append(f.verifiers, body["code_verifier"])
			if body["auth_code"] != "good-code" {
				writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error_code": "flow_state_not_found", "msg": "invalid flow state"})
				return
			}
			writeJSON(w, http.StatusOK, f.session("access-3", "refresh-3"))
		}
	case "POST /auth/v1/signup":
		if f.confirm {
			writeJSON(w, http.StatusOK, f.user())
			return
		}
		writeJSON(w, http.StatusOK, f.session("access-1", "refresh-1"))
	case "POST /auth/v1/logout":
		f.loggedOut = append(f.loggedOut, bearer)
		w.WriteHeader(http.StatusNoContent)
	case "POST /auth/v1/recover":
		f.recovered = append(f.recovered, body["email"])
		f.redirects = append(f.redirects, r.URL.Query().Get("redirect_to"))
		writeJSON(w, http.StatusOK, map[string]any{})
	case "GET /auth/v1/user":
		if !strings.HasPrefix(bearer, "access-") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, f.user())
	case "PUT /auth/v1/user":
		f.password = body["password"]
		writeJSON(w, http.StatusOK, f.user())
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGoTrue) set(fn func(f *fakeGoTrue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestService(t *testing.T) (*Service, *fakeGoTrue) {
	t.Helper()
	fake := &fakeGoTrue{t: t, password: "secret1"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := NewService(srv.URL, testAnonKey, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc, fake
}

func TestNewService_RequiresURLAndKey(t *testing.T) {
	_, err := NewService("", testAnonKey, nil, nil)
	assert.Error(t, err)
	_, err = NewService("not a url", testAnonKey, nil, nil)
	assert.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	svc, _ := newTestService(t)
	c := svc.Client(nil, nil, "")

	var events []auth.EventType
	c.OnAuthStateChange(func(ev auth.Event) { events = append(events, ev.Type) })

	s, err := c.SignInWithPassword(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, "Ana", s.User.FullName)
	assert.Equal(t, "https://img/ana.png", s.User.AvatarURL)
	assert.False(t, s.Expired(time.Now()))
	assert.Equal(t, []auth.EventType{auth.EventSignedIn}, events)

	_, err = c.SignInWithPassword(context.Background(), "ana@example.com", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_grant", apiErr.Code)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
	assert.True(t, IsUnauthorized(err))
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	svc, fake := newTestService(t)
	fake.set(func(f *fakeGoTrue) { f.confirm = true })

	u, s, err := svc.Client(nil, nil, "").SignUp(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, "u-1", u.ID)

	fake.set(func(f *fakeGoTrue) { f.confirm = false })
	_, s, err = svc.Client(nil, nil, "").SignUp(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSignOut_ClearsAndRevokes(t *testing.T) {
	svc, fake := newTestService(t)
	c := svc.Client(&models.Session{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil, "")

	require.NoError(t, c.SignOut(context.Background(), "access-1"))
	assert.Nil(t, c.Current(context.Background()))
	fake.set(func(f *fakeGoTrue) { assert.Equal(t, []string{"access-1"}, f.loggedOut) })
}

func TestExchangeCode_SendsVerifier(t *testing.T) {
	svc, fake := newTestService(t)

	s, err := svc.Client(nil, nil, "").WithCodeVerifier("verifier-1").ExchangeCode(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "access-3", s.AccessToken)

	_, err = svc.Client(nil, nil, "").ExchangeCode(context.Background(), "stale-code")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "flow_state_not_found", apiErr.Code)

	fake.set(func(f *fakeGoTrue) { assert.Equal(t, []string{"verifier-1", ""}, f.verifiers) })
}

func TestGetSession_RefreshesExpired(t *testing.T) {
	svc, fake := newTestService(t)
	stale := &models.Session{AccessToken: "access-0", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(-time.Minute)}
	c := svc.Client(stale, nil, "")

	var events []auth.EventType
	c.OnAuthStateChange(func(ev auth.Event) { events = append(events, ev.Type) })

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.AccessToken)
	fake.set(func(f *fakeGoTrue) { assert.Equal(t, 1, f.refreshed) })
	assert.Equal(t, []auth.EventType{auth.EventTokenRefreshed}, events)

	dead := &models.Session{AccessToken: "access-0", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute)}
	s, err = svc.Client(dead, nil, "").GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestGetUser(t *testing.T) {
	svc, _ := newTestService(t)
	c := svc.Client(nil, nil, "")

	u, err := c.GetUser(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), u.CreatedAt.UTC())

	_, err = c.GetUser(context.Background(), "forged")
	assert.True(t, IsUnauthorized(err))
}

func TestResetPasswordForEmail_PassesRedirect(t *testing.T) {
	svc, fake := newTestService(t)
	err := svc.Client(nil, nil, "").ResetPasswordForEmail(context.Background(), "ana@example.com", "https://app/auth/callback?next=/reset-password")
	require.NoError(t, err)
	fake.set(func(f *fakeGoTrue) {
		assert.Equal(t, []string{"ana@example.com"}, f.recovered)
		assert.Equal(t, []string{"https://app/auth/callback?next=/reset-password"}, f.redirects)
	})
}

func TestBridgeOverGoTrue(t *testing.T) {
	svc, fake := newTestService(t)
	kv := persist.NewMemory()
	states := store.New(models.SignedOutState())
	b := auth.NewBridge(svc.Client(nil, kv, persist.KeySession), states, zaptest.NewLogger(t))
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	_, err := b.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, states.Get().IsAuthenticated())

	require.NoError(t, b.ChangePassword(context.Background(), "new-secret"))
	fake.set(func(f *fakeGoTrue) { assert.Equal(t, "new-secret", f.password) })

	raw, ok, err := kv.Get(context.Background(), persist.KeySession)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "access-1")

	require.NoError(t, b.SignOut(context.Background()))
	assert.False(t, states.Get().IsAuthenticated())
	_, ok, _ = kv.Get(context.Background(), persist.KeySession)
	assert.False(t, ok)
}

func TestAuthorizeURLAndPKCE(t *testing.T) {
	svc, _ := newTestService(t)
	verifier, challenge, err := NewPKCE()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, challenge)

	u := svc.AuthorizeURL("google", "http://localhost:8080/auth/callback", challenge)
	assert.Contains(t, u, "/auth/v1/authorize?")
	assert.Contains(t, u, "provider=google")
	assert.Contains(t, u, "code_challenge="+challenge)
	assert.Contains(t, u, "code_challenge_method=s256")
}
