// Package supabase is a session source speaking the Supabase GoTrue REST API.
package supabase

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/models"

	"go.uber.org/zap"
)

// APIError is a non-2xx answer from GoTrue.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a rejected token or grant.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden ||
		(apiErr.Status == http.StatusBadRequest && apiErr.Code == "invalid_grant")
}

// Service holds the project endpoint shared by every client.
type Service struct {
	baseURL string
	anonKey string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a service for the project at projectURL.
func NewService(projectURL, anonKey string, httpClient *http.Client, logger *zap.Logger) (*Service, error) {
	if projectURL == "" || anonKey == "" {
		return nil, errors.New("supabase url and anon key are required")
	}
	u, err := url.Parse(projectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", projectURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		baseURL: strings.TrimRight(projectURL, "/") + "/auth/v1",
		anonKey: anonKey,
		http:    httpClient,
		logger:  logger.Named("supabase"),
		now:     time.Now,
	}, nil
}

// AuthorizeURL is where a browser starts an OAuth sign-in with provider.
// The code comes back to redirectTo and is exchanged with the verifier
// matching challenge.
func (s *Service) AuthorizeURL(provider, redirectTo, challenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "s256")
	return s.baseURL + "/authorize?" + q.Encode()
}

// NewPKCE returns a code verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Client is one holder's connection to GoTrue. It implements auth.SessionSource.
type Client struct {
	*auth.Holder
	s        *Service
	verifier string
}

var _ auth.SessionSource = (*Client)(nil)

// Client returns a session source seeded with seed. storage may be nil.
func (s *Service) Client(seed *models.Session, storage auth.SessionStorage, key string) *Client {
	return &Client{Holder: auth.NewHolder(seed, storage, key), s: s}
}

// WithCodeVerifier sets the PKCE verifier used by ExchangeCode.
func (c *Client) WithCodeVerifier(verifier string) *Client {
	c.verifier = verifier
	return c
}

type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *wireUser `json:"user"`
}

type wireError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (u *wireUser) model() *models.User {
	if u == nil || u.ID == "" {
		return nil
	}
	out := &models.User{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata, CreatedAt: u.CreatedAt}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		out.FullName = name
	}
	if avatar, ok := u.UserMetadata["avatar_url"].(string); ok {
		out.AvatarURL = avatar
	}
	return out
}

func (c *Client) session(w *wireSession) *models.Session {
	if w == nil || w.AccessToken == "" {
		return nil
	}
	s := &models.Session{AccessToken: w.AccessToken, RefreshToken: w.RefreshToken, User: w.User.model()}
	switch {
	case w.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(w.ExpiresAt, 0)
	case w.ExpiresIn > 0:
		s.ExpiresAt = c.s.now().Add(time.Duration(w.ExpiresIn) * time.Second)
	}
	if s.User != nil {
		s.UserID = s.User.ID
	}
	return s
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := c.s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.s.anonKey)
	if bearer == "" {
		bearer = c.s.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var w wireError
	if json.Unmarshal(raw, &w) != nil {
		return apiErr
	}
	for _, code := range []string{w.ErrorCode, w.Error} {
		if code != "" {
			apiErr.Code = code
			break
		}
	}
	for _, msg := range []string{w.ErrorDescription, w.Msg, w.Message} {
		if msg != "" {
			apiErr.Message = msg
			break
		}
	}
	return apiErr
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (*models.Session, error) {
	var w wireSession
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {grantType}}, "", body, &w); err != nil {
		return nil, err
	}
	s := c.session(&w)
	if s == nil {
		return nil, errors.New("gotrue returned no session")
	}
	return s, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	s, err := c.grant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventSignedIn, s)
	return s, nil
}

// SignUp returns a nil session when the project requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.User, *models.Session, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", map[string]string{"email": email, "password": password}, &raw); err != nil {
		return nil, nil, err
	}
	var w wireSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, nil, err
	}
	if s := c.session(&w); s != nil {
		c.replace(ctx, auth.EventSignedIn, s)
		return s.User, s, nil
	}
	var u wireUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, nil, err
	}
	return u.model(), nil, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
	if cerr := c.Clear(ctx); cerr != nil {
		c.s.logger.Warn("clearing stored session failed", zap.Error(cerr))
	}
	if IsUnauthorized(err) {
		// already gone server side
		return nil
	}
	return err
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*models.Session, error) {
	s, err := c.grant(ctx, "pkce", map[string]string{"auth_code": code, "code_verifier": c.verifier})
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventSignedIn, s)
	return s, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	s, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	c.replace(ctx, auth.EventTokenRefreshed, s)
	return s, nil
}

// GetSession returns the held session, refreshing it first when the access
// token has expired. A rejected refresh drops the session.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	current := c.Current(ctx)
	if current == nil || !current.Expired(c.s.now()) {
		return current, nil
	}
	if current.RefreshToken == "" {
		_ = c.Clear(ctx)
		return nil, nil
	}
	s, err := c.RefreshSession(ctx, current.RefreshToken)
	if IsUnauthorized(err) {
		_ = c.Clear(ctx)
		return nil, nil
	}
	return s, err
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	var w wireUser
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &w); err != nil {
		return nil, err
	}
	u := w.model()
	if u == nil {
		return nil, errors.New("gotrue returned no user")
	}
	return u, nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, "", map[string]string{"email": email}, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) (*models.User, error) {
	var w wireUser
	if err := c.do(ctx, http.MethodPut, "/user", nil, accessToken, map[string]string{"password": newPassword}, &w); err != nil {
		return nil, err
	}
	u := w.model()
	if cur := c.Current(ctx); cur != nil && u != nil {
		next := *cur
		next.User = u
		c.replace(ctx, auth.EventUserUpdated, &next)
	}
	return u, nil
}

func (c *Client) OnAuthStateChange(fn func(auth.Event)) func() {
	return c.Subscribe(fn)
}

func (c *Client) replace(ctx context.Context, ev auth.EventType, s *models.Session) {
	if err := c.Replace(ctx, ev, s); err != nil {
		c.s.logger.Warn("storing session failed", zap.Error(err))
	}
}
