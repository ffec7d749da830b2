package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"

	"dailypa/internal/auth"
	"dailypa/internal/guard"
	"dailypa/internal/integration"
	"dailypa/internal/models"
	"dailypa/internal/persist"
	"dailypa/internal/prefs"
	"dailypa/internal/storage"
	"dailypa/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OAuth starts a browser sign-in with an external identity provider.
type OAuth interface {
	AuthorizeURL(provider, redirectTo, challenge string) string
}

// Deps are the collaborators the handlers need.
type Deps struct {
	DB             *storage.DB
	KV             persist.KV
	Sources        guard.SourceFunc
	Guard          *guard.Guard
	Cookies        guard.Cookies
	Calendar       *integration.Calendar
	OAuth          OAuth
	OAuthProviders []string
	PublicURL      string
	TemplateDir    string
	Logger         *zap.Logger
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db             *storage.DB
	kv             persist.KV
	sources        guard.SourceFunc
	guard          *guard.Guard
	cookies        guard.Cookies
	calendar       *integration.Calendar
	oauth          OAuth
	oauthProviders []string
	publicURL      string
	templateDir    string
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		db:             d.DB,
		kv:             d.KV,
		sources:        d.Sources,
		guard:          d.Guard,
		cookies:        d.Cookies,
		calendar:       d.Calendar,
		oauth:          d.OAuth,
		oauthProviders: d.OAuthProviders,
		publicURL:      strings.TrimRight(d.PublicURL, "/"),
		templateDir:    d.TemplateDir,
		logger:         logger.Named("http"),
	}
}

// Mount registers the application routes on r.
func (h *Handlers) Mount(r chi.Router) {
	g := h.guard
	r.Get("/healthz", h.Healthz)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, guard.LandingPath, http.StatusFound)
	})

	r.Group(func(r chi.Router) {
		r.Use(g.PublicOnly)
		r.Get("/login", h.LoginForm)
		r.Post("/login", h.Login)
		r.Get("/signup", h.SignupForm)
		r.Post("/signup", h.Signup)
		r.Get("/reset-password", h.ResetForm)
		r.Post("/reset-password", h.Reset)
		r.Get("/auth/oauth/{provider}", h.OAuthStart)
	})

	r.Get("/auth/callback", h.Callback)

	r.Group(func(r chi.Router) {
		r.Use(g.Session)
		r.Post("/logout", h.Logout)
		r.Post("/api/auth/change-password", h.ChangePasswordAPI)
	})

	r.Group(func(r chi.Router) {
		r.Use(g.Protected)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/expenses", h.ListExpenses)
		r.Post("/expenses", h.CreateExpense)
		r.Post("/expenses/{id}/delete", h.DeleteExpense)
		r.Get("/budget", h.Budget)
		r.Post("/budget", h.SetBudget)
		r.Get("/account", h.Account)
		r.Post("/account/password", h.ChangePassword)
		r.Post("/settings/currency", h.SetCurrency)
		r.Post("/settings/profile", h.UpdateProfile)
	})
}

// Healthz reports whether the database answers.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bridge builds a request-scoped auth bridge seeded with the request's
// resolved session. Session changes it commits are written back as cookies.
// The returned func releases it.
func (h *Handlers) bridge(w http.ResponseWriter, r *http.Request) (*auth.Bridge, func()) {
	ctx := r.Context()
	initial := guard.State(ctx)
	seed := initial.Session

	states := store.New(initial)
	last := accessToken(seed)

	b := auth.NewBridge(h.sources(r, seed), states, h.logger, auth.WithHooks(auth.Hooks{
		OnSignedIn: func(ctx context.Context, u *models.User) {
			h.syncProfile(ctx, u)
		},
	}))
	if err := b.Start(ctx); err != nil {
		h.logger.Warn("session bootstrap failed", zap.Error(err))
	}

	// Mirror every session change into the response cookies
	sub := states.Subscribe(func(s models.AuthState) {
		if s.IsLoading {
			return
		}
		tok := accessToken(s.Session)
		if tok == last {
			return
		}
		last = tok
		if tok == "" {
			h.cookies.Clear(w)
			return
		}
		h.cookies.Write(w, s.Session)
	})
	return b, func() {
		sub.Close()
		b.Close()
	}
}

func accessToken(s *models.Session) string {
	if s == nil {
		return ""
	}
	return s.AccessToken
}

// userPrefs are one user's persisted preference stores.
type userPrefs struct {
	currency *prefs.CurrencyStore
	budget   *prefs.BudgetStore
	profile  *prefs.ProfileStore
}

func (p *userPrefs) Close() {
	p.currency.Close()
	p.budget.Close()
	p.profile.Close()
}

// prefsFor hydrates the stores of userID, scoped by key prefix.
func (h *Handlers) prefsFor(ctx context.Context, userID string) (*userPrefs, error) {
	kv := persist.Prefixed(h.kv, userID)
	currency, err := prefs.NewCurrencyStore(kv, h.logger)
	if err != nil {
		return nil, err
	}
	budget, err := prefs.NewBudgetStore(kv, h.logger)
	if err != nil {
		return nil, err
	}
	profile, err := prefs.NewProfileStore(kv, h.logger)
	if err != nil {
		return nil, err
	}
	currency.Hydrate(ctx)
	budget.Hydrate(ctx)
	profile.Hydrate(ctx)
	return &userPrefs{currency: currency, budget: budget, profile: profile}, nil
}

func (h *Handlers) syncProfile(ctx context.Context, u *models.User) {
	p, err := h.prefsFor(ctx, u.ID)
	if err != nil {
		h.logger.Warn("profile sync failed", zap.Error(err))
		return
	}
	defer p.Close()
	p.profile.SignedIn(u)
}

// authMessage is the user-facing text for a bridge error.
func authMessage(err error, fallback string) string {
	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return fallback
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	h.renderStatus(w, r, http.StatusOK, viewName, data)
}

func (h *Handlers) renderStatus(w http.ResponseWriter, r *http.Request, status int, viewName string, data any) {
	tmpl, err := template.New("base.html").Funcs(funcs).ParseFiles(
		filepath.Join(h.templateDir, "base.html"),
		filepath.Join(h.templateDir, viewName),
	)
	if err != nil {
		h.logger.Error("template parse failed", zap.String("view", viewName), zap.Error(err))
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	target := "base.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, target, page{Data: data, State: guard.State(r.Context())}); err != nil {
		h.logger.Error("template execution failed", zap.String("view", viewName), zap.Error(err))
	}
}

// page wraps view data with the caller's auth state for the layout.
type page struct {
	Data  any
	State models.AuthState
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// redirect sends the browser to location, as an HTMX redirect when asked by HTMX.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
