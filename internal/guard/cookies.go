package guard

import (
	"net/http"
	"time"

	"dailypa/internal/models"
)

const (
	AccessCookie   = "sb-access-token"
	RefreshCookie  = "sb-refresh-token"
	VerifierCookie = "sb-code-verifier"

	// RefreshCookieAge bounds how long a browser keeps the refresh token.
	RefreshCookieAge = 30 * 24 * time.Hour
)

// Cookies writes and clears the session cookies.
type Cookies struct {
	Secure bool
}

// Write stores session in the response cookies.
func (c Cookies) Write(w http.ResponseWriter, s *models.Session) {
	if s == nil {
		c.Clear(w)
		return
	}
	c.set(w, AccessCookie, s.AccessToken, int(RefreshCookieAge.Seconds()))
	if s.RefreshToken != "" {
		c.set(w, RefreshCookie, s.RefreshToken, int(RefreshCookieAge.Seconds()))
	}
}

// Clear expires the session cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	c.set(w, AccessCookie, "", -1)
	c.set(w, RefreshCookie, "", -1)
}

// SetVerifier stores a PKCE verifier for the OAuth round trip.
func (c Cookies) SetVerifier(w http.ResponseWriter, verifier string) {
	c.set(w, VerifierCookie, verifier, int((10 * time.Minute).Seconds()))
}

// ClearVerifier expires the PKCE verifier cookie.
func (c Cookies) ClearVerifier(w http.ResponseWriter) {
	c.set(w, VerifierCookie, "", -1)
}

func (c Cookies) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

// SessionFromCookies returns the session the request carries, unverified.
func SessionFromCookies(r *http.Request) *models.Session {
	access := cookieValue(r, AccessCookie)
	refresh := cookieValue(r, RefreshCookie)
	if access == "" && refresh == "" {
		return nil
	}
	return &models.Session{AccessToken: access, RefreshToken: refresh}
}

// Verifier returns the PKCE verifier cookie, if any.
func Verifier(r *http.Request) string {
	return cookieValue(r, VerifierCookie)
}
