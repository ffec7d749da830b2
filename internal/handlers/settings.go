package handlers

import (
	"net/http"
	"strings"

	"dailypa/internal/guard"
	"dailypa/internal/prefs"

	"go.uber.org/zap"
)

// SetCurrency stores the caller's display currency.
func (h *Handlers) SetCurrency(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderAccount(w, r, http.StatusBadRequest, "Invalid form submission", "")
		return
	}
	p, err := h.prefsFor(r.Context(), guard.UserID(r.Context()))
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	err = p.currency.SetCurrency(r.FormValue("currency"))
	p.Close()
	if err != nil {
		h.renderAccount(w, r, http.StatusBadRequest, authMessage(err, "Could not save the currency"), "")
		return
	}
	redirect(w, r, "/account?notice=currency")
}

// UpdateProfile stores the caller's display name and avatar.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderAccount(w, r, http.StatusBadRequest, "Invalid form submission", "")
		return
	}
	var u prefs.ProfileUpdate
	if r.Form.Has("full_name") {
		name := strings.TrimSpace(r.FormValue("full_name"))
		u.FullName = &name
	}
	if r.Form.Has("avatar_url") {
		avatar := strings.TrimSpace(r.FormValue("avatar_url"))
		u.AvatarURL = &avatar
	}

	p, err := h.prefsFor(r.Context(), guard.UserID(r.Context()))
	if err != nil {
		h.logger.Error("preferences unavailable", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	_, err = p.profile.Update(u)
	p.Close()
	if err != nil {
		h.renderAccount(w, r, http.StatusBadRequest, authMessage(err, "Could not save the profile"), "")
		return
	}
	redirect(w, r, "/account?notice=profile")
}
