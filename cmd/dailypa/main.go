package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"dailypa/internal/auth"
	"dailypa/internal/config"
	"dailypa/internal/localauth"
	"dailypa/internal/logging"
	"dailypa/internal/models"
	"dailypa/internal/persist"
	"dailypa/internal/prefs"
	"dailypa/internal/storage"
	"dailypa/internal/store"
	"dailypa/internal/supabase"
	"dailypa/internal/token"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd, closeSession := newRootCmd(stdin)
	defer closeSession()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

type options struct {
	configPath string
	statePath  string
	verbose    bool
}

// session is one CLI invocation's wired client state.
type session struct {
	cfg      config.Config
	logger   *zap.Logger
	kv       persist.KV
	states   *store.Store[models.AuthState]
	bridge   *auth.Bridge
	profile  *prefs.ProfileStore
	currency *prefs.CurrencyStore
	budget   *prefs.BudgetStore
	closers  []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	_ = s.logger.Sync()
}

// newRootCmd builds the command tree. The returned func releases the session
// opened for whichever command ran.
func newRootCmd(stdin io.Reader) (*cobra.Command, func()) {
	opts := &options{}
	var sess *session

	root := &cobra.Command{
		Use:           "dailypa",
		Short:         "Daily PA from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			sess = s
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.statePath, "state", "", "state file (default is the user config dir)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	get := func() *session { return sess }
	root.AddCommand(
		newLoginCmd(get, stdin),
		newLogoutCmd(get),
		newWhoamiCmd(get),
		newCurrencyCmd(get),
		newBudgetCmd(get),
		newProfileCmd(get),
		newSubscribeCmd(get, stdin),
	)
	return root, func() {
		if sess != nil {
			sess.Close()
		}
	}
}

func open(ctx context.Context, opts *options) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Console(opts.verbose)
	s := &session{cfg: cfg, logger: logger}

	statePath := opts.statePath
	if statePath == "" {
		statePath = cfg.StateFile
	}
	if statePath == "" {
		if statePath, err = persist.DefaultFilePath(); err != nil {
			return nil, err
		}
	}
	s.kv = persist.NewFileKV(statePath)

	source, err := newSource(cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	if s.profile, err = prefs.NewProfileStore(s.kv, logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.currency, err = prefs.NewCurrencyStore(s.kv, logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.budget, err = prefs.NewBudgetStore(s.kv, logger); err != nil {
		s.Close()
		return nil, err
	}
	s.profile.Hydrate(ctx)
	s.currency.Hydrate(ctx)
	s.budget.Hydrate(ctx)
	s.closers = append(s.closers, s.profile.Close, s.currency.Close, s.budget.Close)

	s.states = store.New(models.LoadingState())
	s.bridge = auth.NewBridge(source, s.states, logger, auth.WithHooks(s.profile.Hooks()))
	if err := s.bridge.Start(ctx); err != nil {
		logger.Warn("stored session unusable", zap.Error(err))
	}
	s.closers = append(s.closers, s.bridge.Close)
	return s, nil
}

// newSource connects to the configured session source. The session is kept
// in the state file so it outlives the process.
func newSource(cfg config.Config, s *session) (auth.SessionSource, error) {
	switch cfg.AuthProvider {
	case config.ProviderSupabase:
		svc, err := supabase.NewService(cfg.SupabaseURL, cfg.SupabaseAnonKey, &http.Client{Timeout: 10 * time.Second}, s.logger)
		if err != nil {
			return nil, err
		}
		return svc.Client(nil, s.kv, persist.KeySession), nil
	default:
		if cfg.JWTSecret == "" {
			return nil, errors.New("local auth needs a JWT secret shared with the server (auth.jwt_secret or SUPABASE_JWT_SECRET)")
		}
		db, err := storage.NewDB(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		p, err := localauth.New(db, token.NewSigner(cfg.JWTSecret, "dailypa"), s.logger,
			localauth.WithTTLs(cfg.AccessTokenTTL, cfg.RefreshSessionTTL, 0))
		if err != nil {
			return nil, err
		}
		return p.Client(nil, s.kv, persist.KeySession), nil
	}
}
