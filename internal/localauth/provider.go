// Package localauth is a self-hosted session source backed by sqlite. It
// issues the same token shapes as the hosted provider, so everything above the
// auth.SessionSource interface runs unchanged against either.
package localauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"
	"dailypa/internal/storage"
	"dailypa/internal/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrUserExists is returned when signing up with a taken email.
	ErrUserExists = errors.New("user already registered")
	// ErrInvalidGrant is returned for unknown, used or expired codes and refresh tokens.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrInvalidToken is returned for access tokens that fail verification.
	ErrInvalidToken = errors.New("invalid access token")
)

// Mailer delivers password-recovery links.
type Mailer interface {
	SendRecovery(ctx context.Context, email, link string) error
}

type logMailer struct{ logger *zap.Logger }

func (m logMailer) SendRecovery(_ context.Context, email, link string) error {
	m.logger.Info("password recovery link issued", zap.String("email", email), zap.String("link", link))
	return nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithTTLs overrides access-token, refresh-session and code lifetimes. Zero
// values keep the defaults.
func WithTTLs(access, refresh, code time.Duration) Option {
	return func(p *Provider) {
		if access > 0 {
			p.accessTTL = access
		}
		if refresh > 0 {
			p.refreshTTL = refresh
		}
		if code > 0 {
			p.codeTTL = code
		}
	}
}

// WithMailer overrides how recovery links are delivered.
func WithMailer(m Mailer) Option {
	return func(p *Provider) { p.mailer = m }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.bcryptCost = cost }
}

// Provider owns accounts and refresh sessions.
type Provider struct {
	db     *storage.DB
	signer *token.Signer
	logger *zap.Logger
	mailer Mailer

	accessTTL  time.Duration
	refreshTTL time.Duration
	codeTTL    time.Duration
	bcryptCost int
	now        func() time.Time
}

// New creates a provider. signer must be configured.
func New(db *storage.DB, signer *token.Signer, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if !signer.Configured() {
		return nil, token.ErrNoSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		db:         db,
		signer:     signer,
		logger:     logger.Named("localauth"),
		accessTTL:  time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		codeTTL:    10 * time.Minute,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.mailer == nil {
		p.mailer = logMailer{logger: p.logger}
	}
	return p, nil
}

// EphemeralSecret returns a random signing secret for runs without a
// configured one. Tokens do not survive a restart.
func EphemeralSecret() (string, error) {
	return randomToken(32)
}

// CreateAccount registers an account. metadata may carry full_name and avatar_url.
func (p *Provider) CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &auth.ValidationError{Field: "email", Message: "is required"}
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	if _, err := p.db.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account, err := p.db.CreateUser(ctx, uuid.NewString(), email, string(hash), metadata)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	p.logger.Info("account created", zap.String("user_id", account.ID))
	return userOf(account), nil
}

// UserCount returns the number of accounts.
func (p *Provider) UserCount(ctx context.Context) (int, error) {
	return p.db.UserCount(ctx)
}

func (p *Provider) authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	account, err := p.db.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issueSession(ctx, account)
}

func (p *Provider) issueSession(ctx context.Context, account *storage.Account) (*models.Session, error) {
	sessionID := uuid.NewString()
	refresh, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if err := p.db.CreateSession(ctx, sessionID, refresh, account.ID, now.Add(p.refreshTTL)); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return p.sessionFor(account, sessionID, refresh, now)
}

func (p *Provider) sessionFor(account *storage.Account, sessionID, refresh string, now time.Time) (*models.Session, error) {
	expires := now.Add(p.accessTTL)
	access, err := p.signer.Sign(token.Claims{
		UserID:       account.ID,
		Email:        account.Email,
		SessionID:    sessionID,
		UserMetadata: account.Metadata,
		IssuedAt:     now,
		ExpiresAt:    expires,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(expires.Unix(), 0),
		UserID:       account.ID,
		User:         userOf(account),
	}, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	info, err := p.db.ValidateRefreshToken(ctx, refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	next, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if err := p.db.RotateRefreshToken(ctx, refreshToken, next, now.Add(p.refreshTTL)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	return p.sessionFor(info.User, info.ID, next, now)
}

func (p *Provider) exchange(ctx context.Context, code string) (*models.Session, error) {
	userID, err := p.db.ConsumeAuthCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	account, err := p.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.issueSession(ctx, account)
}

// IssueCode creates a single-use authorization code for a user, the local
// stand-in for an OAuth or magic-link redirect.
func (p *Provider) IssueCode(ctx context.Context, userID string) (string, error) {
	code, err := randomToken(24)
	if err != nil {
		return "", err
	}
	if err := p.db.CreateAuthCode(ctx, code, userID, p.now().Add(p.codeTTL)); err != nil {
		return "", err
	}
	return code, nil
}

// verify checks an access token and that its session is still live.
func (p *Provider) verify(ctx context.Context, accessToken string) (*storage.Account, token.Claims, error) {
	claims, err := p.signer.Verify(accessToken)
	if err != nil {
		return nil, token.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID != "" {
		live, err := p.db.SessionExists(ctx, claims.SessionID)
		if err != nil {
			return nil, claims, err
		}
		if !live {
			return nil, claims, fmt.Errorf("%w: session revoked", ErrInvalidToken)
		}
	}
	account, err := p.db.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return account, claims, nil
}

func (p *Provider) resetPassword(ctx context.Context, email, redirectTo string) error {
	account, err := p.db.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		// unknown addresses look the same as known ones
		return nil
	}
	if err != nil {
		return err
	}
	code, err := p.IssueCode(ctx, account.ID)
	if err != nil {
		return err
	}
	link, err := withCode(redirectTo, code)
	if err != nil {
		return err
	}
	return p.mailer.SendRecovery(ctx, account.Email, link)
}

func (p *Provider) updatePassword(ctx context.Context, accessToken, newPassword string) (*models.User, error) {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return nil, err
	}
	account, _, err := p.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := p.db.UpdatePasswordHash(ctx, account.ID, string(hash)); err != nil {
		return nil, err
	}
	return userOf(account), nil
}

// RunJanitor deletes expired sessions every interval until ctx is done.
func (p *Provider) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.db.CleanExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("cleaning expired sessions failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				p.logger.Debug("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

func userOf(a *storage.Account) *models.User {
	u := a.User
	return &u
}

func withCode(redirectTo, code string) (string, error) {
	if redirectTo == "" {
		redirectTo = "/auth/callback"
	}
	u, err := url.Parse(redirectTo)
	if err != nil {
		return "", fmt.Errorf("parse redirect: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
