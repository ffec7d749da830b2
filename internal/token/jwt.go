// Package token signs and verifies HS256 access tokens in the claim layout
// Supabase uses (sub, email, session_id, user_metadata).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned when signing or verifying without a configured secret.
var ErrNoSecret = errors.New("jwt secret not configured")

// Claims is the verified content of an access token.
type Claims struct {
	UserID       string
	Email        string
	SessionID    string
	Role         string
	UserMetadata map[string]any
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

type accessClaims struct {
	Email        string         `json:"email,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies access tokens with a shared secret.
type Signer struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. issuer may be empty.
func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second, now: time.Now}
}

// Configured reports whether a secret is set.
func (s *Signer) Configured() bool {
	return s != nil && len(s.secret) > 0
}

// Sign issues a token for c. IssuedAt defaults to now.
func (s *Signer) Sign(c Claims) (string, error) {
	if !s.Configured() {
		return "", ErrNoSecret
	}
	issued := c.IssuedAt
	if issued.IsZero() {
		issued = s.now()
	}
	role := c.Role
	if role == "" {
		role = "authenticated"
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email:        c.Email,
		SessionID:    c.SessionID,
		Role:         role,
		UserMetadata: c.UserMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	})
	return tok.SignedString(s.secret)
}

// Verify parses raw and checks its signature and expiry.
func (s *Signer) Verify(raw string) (Claims, error) {
	if !s.Configured() {
		return Claims{}, ErrNoSecret
	}
	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, err
	}
	ac, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	if ac.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}

	c := Claims{
		UserID:       ac.Subject,
		Email:        ac.Email,
		SessionID:    ac.SessionID,
		Role:         ac.Role,
		UserMetadata: ac.UserMetadata,
		ExpiresAt:    ac.ExpiresAt.Time,
	}
	if ac.IssuedAt != nil {
		c.IssuedAt = ac.IssuedAt.Time
	}
	return c, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
