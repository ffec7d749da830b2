package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"dailypa/internal/auth"
	"dailypa/internal/guard"
	"dailypa/internal/supabase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthViewModel holds data for the sign-in, sign-up and reset pages.
type AuthViewModel struct {
	Email     string
	Error     string
	Notice    string
	Providers []string
}

func (h *Handlers) authView(email, errMsg, notice string) AuthViewModel {
	var providers []string
	if h.oauth != nil {
		providers = h.oauthProviders
	}
	return AuthViewModel{Email: email, Error: errMsg, Notice: notice, Providers: providers}
}

// LoginForm renders the sign-in page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	var errMsg string
	if r.URL.Query().Get("error") == callbackFailed {
		errMsg = "Sign-in link was invalid or has expired. Please try again."
	}
	h.render(w, r, "login.html", h.authView("", errMsg, ""))
}

// Login handles the sign-in form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "login.html", h.authView("", "Invalid form submission", ""))
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	// Validate and sign in; cookies are written as the session lands
	b, done := h.bridge(w, r)
	defer done()
	if _, err := b.SignIn(r.Context(), email, password); err != nil {
		status := http.StatusUnauthorized
		if auth.IsValidation(err) {
			status = http.StatusBadRequest
		}
		h.renderStatus(w, r, status, "login.html",
			h.authView(email, authMessage(err, "Invalid email or password"), ""))
		return
	}
	redirect(w, r, guard.LandingPath)
}

// SignupForm renders the registration page.
func (h *Handlers) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "signup.html", h.authView("", "", ""))
}

// Signup handles the registration form submission.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "signup.html", h.authView("", "Invalid form submission", ""))
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if password != r.FormValue("confirm_password") {
		h.renderStatus(w, r, http.StatusBadRequest, "signup.html", h.authView(email, "Passwords do not match", ""))
		return
	}

	b, done := h.bridge(w, r)
	defer done()
	if _, err := b.SignUp(r.Context(), email, password); err != nil {
		status := http.StatusConflict
		if auth.IsValidation(err) {
			status = http.StatusBadRequest
		}
		h.renderStatus(w, r, status, "signup.html",
			h.authView(email, authMessage(err, "Could not create the account"), ""))
		return
	}
	if !b.State().IsAuthenticated() {
		h.render(w, r, "signup.html",
			h.authView(email, "", "Check your email to confirm your account, then sign in."))
		return
	}
	redirect(w, r, guard.LandingPath)
}

// ResetForm renders the password recovery page.
func (h *Handlers) ResetForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "reset.html", h.authView("", "", ""))
}

// Reset sends a recovery link. The response does not reveal whether the
// address has an account.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "reset.html", h.authView("", "Invalid form submission", ""))
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))

	b, done := h.bridge(w, r)
	defer done()
	err := b.ResetPassword(r.Context(), email, h.publicURL+"/auth/callback?next=/account")
	if auth.IsValidation(err) {
		h.renderStatus(w, r, http.StatusBadRequest, "reset.html", h.authView(email, authMessage(err, ""), ""))
		return
	}
	if err != nil {
		h.logger.Warn("password recovery failed", zap.Error(err))
	}
	h.render(w, r, "reset.html",
		h.authView("", "", "If an account exists for that address, a reset link is on its way."))
}

// OAuthStart sends the browser to the identity provider.
func (h *Handlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if h.oauth == nil || !slices.Contains(h.oauthProviders, provider) {
		http.NotFound(w, r)
		return
	}
	verifier, challenge, err := supabase.NewPKCE()
	if err != nil {
		h.logger.Error("pkce generation failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.cookies.SetVerifier(w, verifier)

	callback := h.publicURL + "/auth/callback"
	if next := r.URL.Query().Get("next"); next != "" {
		callback += "?next=" + url.QueryEscape(safeNext(next))
	}
	http.Redirect(w, r, h.oauth.AuthorizeURL(provider, callback, challenge), http.StatusFound)
}

// Logout ends the session and returns to the sign-in page.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	b, done := h.bridge(w, r)
	defer done()
	hadSession := b.State().Session != nil
	if err := b.SignOut(r.Context()); err != nil {
		h.logger.Warn("sign out failed", zap.Error(err))
	}
	if !hadSession {
		h.cookies.Clear(w)
	}
	redirect(w, r, guard.SignInPath)
}

// AccountViewModel holds data for the account page.
type AccountViewModel struct {
	Email    string
	FullName string
	Currency string
	Options  []string
	Error    string
	Notice   string
}

// Account renders the profile, currency and password settings.
func (h *Handlers) Account(w http.ResponseWriter, r *http.Request) {
	h.renderAccount(w, r, http.StatusOK, "", r.URL.Query().Get("notice"))
}

func (h *Handlers) renderAccount(w http.ResponseWriter, r *http.Request, status int, errMsg, notice string) {
	p, err := h.prefsFor(r.Context(), guard.UserID(r.Context()))
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer p.Close()
	profile := p.profile.Profile()
	h.renderStatus(w, r, status, "account.html", AccountViewModel{
		Email:    profile.Email,
		FullName: profile.FullName,
		Currency: p.currency.Currency(),
		Options:  currencyOptions(),
		Error:    errMsg,
		Notice:   noticeText(notice),
	})
}

func noticeText(code string) string {
	switch code {
	case "password":
		return "Password updated."
	case "profile":
		return "Profile saved."
	case "currency":
		return "Currency saved."
	}
	return ""
}

// ChangePassword handles the account page's password form.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderAccount(w, r, http.StatusBadRequest, "Invalid form submission", "")
		return
	}
	password := r.FormValue("password")
	if password != r.FormValue("confirm_password") {
		h.renderAccount(w, r, http.StatusBadRequest, "Passwords do not match", "")
		return
	}

	b, done := h.bridge(w, r)
	defer done()
	if err := b.ChangePassword(r.Context(), password); err != nil {
		status := http.StatusBadRequest
		if !auth.IsValidation(err) {
			status = http.StatusUnauthorized
			h.logger.Warn("password change failed", zap.Error(err))
		}
		h.renderAccount(w, r, status, authMessage(err, "Could not change the password"), "")
		return
	}
	redirect(w, r, "/account?notice=password")
}

type changePasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// ChangePasswordAPI sets a new password for the caller's session.
func (h *Handlers) ChangePasswordAPI(w http.ResponseWriter, r *http.Request) {
	if !guard.State(r.Context()).IsAuthenticated() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	b, done := h.bridge(w, r)
	defer done()
	err := b.ChangePassword(r.Context(), req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case auth.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": authMessage(err, "")})
	case errors.Is(err, auth.ErrGuestSession):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	default:
		h.logger.Warn("password change failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not change the password"})
	}
}
