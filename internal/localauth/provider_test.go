package localauth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"
	"dailypa/internal/persist"
	"dailypa/internal/storage"
	"dailypa/internal/store"
	"dailypa/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *captureMailer) SendRecovery(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[email] = link
	return nil
}

func (m *captureMailer) link(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[email]
}

// ProviderTestSuite exercises the provider through its session source clients
type ProviderTestSuite struct {
	suite.Suite
	db     *storage.DB
	ctx    context.Context
	p      *Provider
	mailer *captureMailer
}

func (suite *ProviderTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err)
	suite.db = db
	suite.ctx = context.Background()
	suite.mailer = &captureMailer{}

	p, err := New(db, token.NewSigner("test-secret", "dailypa"), zaptest.NewLogger(suite.T()),
		WithBcryptCost(bcrypt.MinCost), WithMailer(suite.mailer))
	require.NoError(suite.T(), err)
	suite.p = p

	_, err = p.CreateAccount(suite.ctx, "Owner@Example.com", "secret1", map[string]any{"full_name": "Owner"})
	require.NoError(suite.T(), err)
}

func (suite *ProviderTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *ProviderTestSuite) TestNewRequiresSecret() {
	_, err := New(suite.db, token.NewSigner("", ""), nil)
	assert.ErrorIs(suite.T(), err, token.ErrNoSecret)
}

func (suite *ProviderTestSuite) TestCreateAccountValidation() {
	_, err := suite.p.CreateAccount(suite.ctx, "owner@example.com", "another1", nil)
	assert.ErrorIs(suite.T(), err, ErrUserExists)

	_, err = suite.p.CreateAccount(suite.ctx, "new@example.com", "12345", nil)
	assert.True(suite.T(), auth.IsValidation(err))

	_, err = suite.p.CreateAccount(suite.ctx, "  ", "secret1", nil)
	assert.True(suite.T(), auth.IsValidation(err))
}

func (suite *ProviderTestSuite) TestSignInIssuesVerifiableSession() {
	c := suite.p.Client(nil, nil, "")
	var events []auth.EventType
	c.OnAuthStateChange(func(ev auth.Event) { events = append(events, ev.Type) })

	s, err := c.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), s.AccessToken)
	assert.NotEmpty(suite.T(), s.RefreshToken)
	assert.Equal(suite.T(), "Owner", s.User.FullName)
	assert.WithinDuration(suite.T(), time.Now().Add(time.Hour), s.ExpiresAt, 5*time.Second)
	assert.Equal(suite.T(), []auth.EventType{auth.EventSignedIn}, events)

	u, err := c.GetUser(suite.ctx, s.AccessToken)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), s.UserID, u.ID)

	current, err := c.GetSession(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), s.AccessToken, current.AccessToken)
}

func (suite *ProviderTestSuite) TestSignInRejectsBadCredentials() {
	c := suite.p.Client(nil, nil, "")
	_, err := c.SignInWithPassword(suite.ctx, "owner@example.com", "wrong-password")
	assert.ErrorIs(suite.T(), err, ErrInvalidCredentials)

	_, err = c.SignInWithPassword(suite.ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(suite.T(), err, ErrInvalidCredentials)
	assert.Nil(suite.T(), c.Current(suite.ctx))
}

func (suite *ProviderTestSuite) TestSignUpSignsIn() {
	c := suite.p.Client(nil, nil, "")
	u, s, err := c.SignUp(suite.ctx, "fresh@example.com", "secret1")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), s)
	assert.Equal(suite.T(), u.ID, s.UserID)
}

func (suite *ProviderTestSuite) TestRefreshRotatesToken() {
	c := suite.p.Client(nil, nil, "")
	first, err := c.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	require.NoError(suite.T(), err)

	second, err := c.RefreshSession(suite.ctx, first.RefreshToken)
	require.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), first.RefreshToken, second.RefreshToken)
	assert.Equal(suite.T(), first.UserID, second.UserID)

	_, err = c.RefreshSession(suite.ctx, first.RefreshToken)
	assert.ErrorIs(suite.T(), err, ErrInvalidGrant, "rotated refresh tokens are single use")
}

func (suite *ProviderTestSuite) TestSignOutRevokesSession() {
	c := suite.p.Client(nil, nil, "")
	s, err := c.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), c.SignOut(suite.ctx, s.AccessToken))
	assert.Nil(suite.T(), c.Current(suite.ctx))

	_, err = c.GetUser(suite.ctx, s.AccessToken)
	assert.ErrorIs(suite.T(), err, ErrInvalidToken)
	_, err = c.RefreshSession(suite.ctx, s.RefreshToken)
	assert.ErrorIs(suite.T(), err, ErrInvalidGrant)
}

func (suite *ProviderTestSuite) TestExpiredAccessTokenRefreshesOnGetSession() {
	first := suite.p.Client(nil, nil, "")
	live, err := first.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	require.NoError(suite.T(), err)

	stale := *live
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	c := suite.p.Client(&stale, nil, "")

	got, err := c.GetSession(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), got)
	assert.NotEqual(suite.T(), live.RefreshToken, got.RefreshToken)
	assert.False(suite.T(), got.Expired(time.Now()))

	dead := stale
	dead.RefreshToken = "gone"
	c = suite.p.Client(&dead, nil, "")
	got, err = c.GetSession(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), got, "unrefreshable sessions are dropped")
}

func (suite *ProviderTestSuite) TestRecoveryLinkExchangesOnce() {
	c := suite.p.Client(nil, nil, "")
	require.NoError(suite.T(), c.ResetPasswordForEmail(suite.ctx, "owner@example.com", "http://localhost:8080/auth/callback?next=/reset-password"))
	require.NoError(suite.T(), c.ResetPasswordForEmail(suite.ctx, "nobody@example.com", ""))

	link := suite.mailer.link("owner@example.com")
	require.NotEmpty(suite.T(), link)
	assert.Empty(suite.T(), suite.mailer.link("nobody@example.com"))

	u, err := url.Parse(link)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "/reset-password", u.Query().Get("next"))
	code := u.Query().Get("code")

	s, err := c.ExchangeCode(suite.ctx, code)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "owner@example.com", s.User.Email)

	_, err = c.ExchangeCode(suite.ctx, code)
	assert.ErrorIs(suite.T(), err, ErrInvalidGrant)
}

func (suite *ProviderTestSuite) TestUpdatePassword() {
	c := suite.p.Client(nil, nil, "")
	s, err := c.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	require.NoError(suite.T(), err)

	var last auth.EventType
	c.OnAuthStateChange(func(ev auth.Event) { last = ev.Type })

	_, err = c.UpdatePassword(suite.ctx, s.AccessToken, "short")
	assert.True(suite.T(), auth.IsValidation(err))

	_, err = c.UpdatePassword(suite.ctx, s.AccessToken, "better-secret")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), auth.EventUserUpdated, last)

	_, err = c.SignInWithPassword(suite.ctx, "owner@example.com", "secret1")
	assert.ErrorIs(suite.T(), err, ErrInvalidCredentials)
	_, err = c.SignInWithPassword(suite.ctx, "owner@example.com", "better-secret")
	assert.NoError(suite.T(), err)
}

func (suite *ProviderTestSuite) TestBridgeRestoresPersistedSession() {
	kv := persist.NewMemory()

	states := store.New(models.SignedOutState())
	b := auth.NewBridge(suite.p.Client(nil, kv, persist.KeySession), states, zaptest.NewLogger(suite.T()))
	require.NoError(suite.T(), b.Start(suite.ctx))
	_, err := b.SignIn(suite.ctx, "OWNER@example.com", "secret1")
	require.NoError(suite.T(), err)
	b.Close()

	restored := store.New(models.SignedOutState())
	b2 := auth.NewBridge(suite.p.Client(nil, kv, persist.KeySession), restored, zaptest.NewLogger(suite.T()))
	require.NoError(suite.T(), b2.Start(suite.ctx))
	defer b2.Close()
	assert.True(suite.T(), restored.Get().IsAuthenticated())
	assert.Equal(suite.T(), "owner@example.com", restored.Get().User.Email)

	require.NoError(suite.T(), b2.SignOut(suite.ctx))
	_, ok, err := kv.Get(suite.ctx, persist.KeySession)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderTestSuite))
}

func TestRunJanitor_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zap.DebugLevel)
	p, err := New(db, token.NewSigner("test-secret", ""), zap.New(core), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	u, err := p.CreateAccount(ctx, "janitor@example.com", "secret1", nil)
	require.NoError(t, err)
	require.NoError(t, db.CreateSession(ctx, "stale", "refresh-stale", u.ID, time.Now().Add(-time.Minute)))

	done := make(chan struct{})
	go func() {
		p.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("expired sessions removed").Len() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
