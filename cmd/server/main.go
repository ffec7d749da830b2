package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/config"
	"dailypa/internal/guard"
	"dailypa/internal/handlers"
	"dailypa/internal/integration"
	"dailypa/internal/localauth"
	"dailypa/internal/logging"
	"dailypa/internal/models"
	"dailypa/internal/persist"
	"dailypa/internal/storage"
	"dailypa/internal/supabase"
	"dailypa/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve the Daily PA web app",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error("server stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	return cmd
}

// app is the wired server.
type app struct {
	db       *storage.DB
	handler  http.Handler
	provider *localauth.Provider
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{db: db, closers: []func() error{db.Close}}

	kv, err := openKV(ctx, cfg, db, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		signer  *token.Signer
		sources guard.SourceFunc
		oauth   handlers.OAuth
	)
	switch cfg.AuthProvider {
	case config.ProviderSupabase:
		svc, err := supabase.NewService(cfg.SupabaseURL, cfg.SupabaseAnonKey, &http.Client{Timeout: 10 * time.Second}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		signer = token.NewSigner(cfg.JWTSecret, "")
		sources = func(r *http.Request, seed *models.Session) auth.SessionSource {
			return svc.Client(seed, nil, "").WithCodeVerifier(guard.Verifier(r))
		}
		oauth = svc
		logger.Info("auth provider configured", zap.String("provider", "supabase"), zap.Bool("local_verify", signer.Configured()))
	default:
		secret := cfg.JWTSecret
		if secret == "" {
			if secret, err = localauth.EphemeralSecret(); err != nil {
				a.Close()
				return nil, err
			}
			logger.Warn("no JWT secret configured, sessions will not survive a restart")
		}
		signer = token.NewSigner(secret, "dailypa")
		p, err := localauth.New(db, signer, logger,
			localauth.WithTTLs(cfg.AccessTokenTTL, cfg.RefreshSessionTTL, 0))
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := seedAdmin(ctx, p, cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
		a.provider = p
		sources = func(_ *http.Request, seed *models.Session) auth.SessionSource {
			return p.Client(seed, nil, "")
		}
		logger.Info("auth provider configured", zap.String("provider", "local"))
	}

	cookies := guard.Cookies{Secure: cfg.SecureCookie}
	h := handlers.NewHandlers(handlers.Deps{
		DB:             db,
		KV:             kv,
		Sources:        sources,
		Guard:          guard.New(signer, sources, cookies, cfg.DevSkipGuard, logger),
		Cookies:        cookies,
		Calendar:       integration.NewCalendar(cfg.CalendarSetupURL, nil, cfg.CalendarTimeout),
		OAuth:          oauth,
		OAuthProviders: cfg.OAuthProviders,
		PublicURL:      cfg.PublicURL,
		TemplateDir:    cfg.TemplateDir,
		Logger:         logger,
	})
	a.handler = setupRouter(h, cfg.StaticDir, logger)
	return a, nil
}

// openKV picks the key-value backend for per-user preferences.
func openKV(ctx context.Context, cfg config.Config, db *storage.DB, a *app) (persist.KV, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client, err := persist.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		kv := persist.NewRedisKV(client, cfg.RedisPrefix, 0)
		if err := kv.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv, nil
	case config.BackendFile:
		return persist.NewFileKV(cfg.StateFile), nil
	default:
		return db.KV(), nil
	}
}

// seedAdmin creates the configured bootstrap account on an empty database.
func seedAdmin(ctx context.Context, p *localauth.Provider, cfg config.Config, logger *zap.Logger) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}
	n, err := p.UserCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	u, err := p.CreateAccount(ctx, cfg.AdminUser, cfg.AdminPassword, nil)
	if err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}
	logger.Info("admin account created", zap.String("email", u.Email))
	return nil
}

func setupRouter(h *handlers.Handlers, staticDir string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(handlers.RequestID, handlers.Recover(logger), handlers.Logging(logger))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	h.Mount(r)
	return r
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.provider != nil && cfg.JanitorInterval > 0 {
		g.Go(func() error {
			a.provider.RunJanitor(ctx, cfg.JanitorInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
