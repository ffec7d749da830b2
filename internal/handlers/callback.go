package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dailypa/internal/auth"
	"dailypa/internal/guard"

	"go.uber.org/zap"
)

const callbackFailed = "auth_callback_failed"

// Callback completes an OAuth, confirmation or recovery round trip: it trades
// the code for a session, runs first-login integrations and forwards to next.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	// The PKCE verifier is good for one exchange only
	if guard.Verifier(r) != "" {
		h.cookies.ClearVerifier(w)
	}
	if code == "" || q.Get("error") != "" {
		if desc := q.Get("error_description"); desc != "" {
			h.logger.Info("auth callback error", zap.String("error", q.Get("error")), zap.String("description", desc))
		}
		http.Redirect(w, r, guard.SignInPath+"?error="+callbackFailed, http.StatusFound)
		return
	}

	// Trade the code for a session; the bridge's cookie writer stores it
	b, done := h.bridge(w, r)
	defer done()
	session, err := b.SignInWithCode(r.Context(), code)
	if err != nil {
		h.logger.Info("code exchange failed", zap.Error(err))
		http.Redirect(w, r, guard.SignInPath+"?error="+callbackFailed, http.StatusFound)
		return
	}

	// Integrations never hold up the redirect
	h.setupIntegrations(r.Context(), session.UserID, session.AccessToken)
	http.Redirect(w, r, safeNext(q.Get("next")), http.StatusFound)
}

// setupIntegrations runs best-effort post-login steps. Failures are logged.
func (h *Handlers) setupIntegrations(ctx context.Context, userID, accessToken string) {
	if !h.calendar.Enabled() {
		return
	}
	if err := h.calendar.Setup(ctx, userID, accessToken); err != nil {
		var ie *auth.IntegrationError
		step := "unknown"
		if errors.As(err, &ie) {
			step = ie.Step
		}
		h.logger.Warn("integration step failed",
			zap.String("step", step),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return guard.LandingPath
	}
	return next
}
