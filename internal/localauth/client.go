package localauth

import (
	"context"
	"errors"

	"dailypa/internal/auth"
	"dailypa/internal/models"

	"go.uber.org/zap"
)

// Client is one holder's view of the provider: it keeps that holder's current
// session and notifies its listeners. It implements auth.SessionSource.
type Client struct {
	*auth.Holder
	p *Provider
}

var _ auth.SessionSource = (*Client)(nil)

// Client returns a session source seeded with seed. storage may be nil.
func (p *Provider) Client(seed *models.Session, storage auth.SessionStorage, key string) *Client {
	return &Client{Holder: auth.NewHolder(seed, storage, key), p: p}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	session, err := c.p.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventSignedIn, session)
	return session, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*models.User, *models.Session, error) {
	user, err := c.p.CreateAccount(ctx, email, password, nil)
	if err != nil {
		return nil, nil, err
	}
	session, err := c.p.authenticate(ctx, user.Email, password)
	if err != nil {
		return user, nil, err
	}
	c.replace(ctx, auth.EventSignedIn, session)
	return user, session, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	var err error
	if _, claims, verr := c.p.verify(ctx, accessToken); verr == nil && claims.SessionID != "" {
		err = c.p.db.DeleteSession(ctx, claims.SessionID)
	}
	if cerr := c.Clear(ctx); cerr != nil {
		c.p.logger.Warn("clearing stored session failed", zap.Error(cerr))
	}
	return err
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*models.Session, error) {
	session, err := c.p.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventSignedIn, session)
	return session, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	session, err := c.p.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventTokenRefreshed, session)
	return session, nil
}

// GetSession returns the held session, refreshing it first when the access
// token has expired. An unrefreshable session is dropped.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	current := c.Current(ctx)
	if current == nil || !current.Expired(c.p.now()) {
		return current, nil
	}
	if current.RefreshToken == "" {
		_ = c.Clear(ctx)
		return nil, nil
	}
	session, err := c.RefreshSession(ctx, current.RefreshToken)
	if errors.Is(err, ErrInvalidGrant) {
		_ = c.Clear(ctx)
		return nil, nil
	}
	return session, err
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	account, _, err := c.p.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return userOf(account), nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.p.resetPassword(ctx, email, redirectTo)
}

func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) (*models.User, error) {
	user, err := c.p.updatePassword(ctx, accessToken, newPassword)
	if err != nil {
		return nil, err
	}
	if cur := c.Current(ctx); cur != nil {
		next := *cur
		next.User = user
		c.replace(ctx, auth.EventUserUpdated, &next)
	}
	return user, nil
}

func (c *Client) OnAuthStateChange(fn func(auth.Event)) func() {
	return c.Subscribe(fn)
}

func (c *Client) replace(ctx context.Context, ev auth.EventType, s *models.Session) {
	if err := c.Replace(ctx, ev, s); err != nil {
		c.p.logger.Warn("storing session failed", zap.Error(err))
	}
}
