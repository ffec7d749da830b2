package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dailypa/internal/guard"
	"dailypa/internal/paywall"
	"dailypa/internal/persist"
	"dailypa/internal/prefs"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNotSignedIn = errors.New("not signed in, run `dailypa login` first")

// requireSession applies the protected-area rule to the CLI's session store.
func requireSession(s *session) error {
	if d := guard.FromStore(s.states, guard.Protected, s.cfg.DevSkipGuard); d.Action != guard.Render {
		return errNotSignedIn
	}
	return nil
}

func newLoginCmd(get func() *session, stdin io.Reader) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := get()
			out := cmd.OutOrStdout()
			if d := guard.FromStore(s.states, guard.PublicOnly, s.cfg.DevSkipGuard); d.Action == guard.Redirect {
				fmt.Fprintf(out, "Already signed in as %s\n", s.states.Get().User.Email)
				return nil
			}
			if password == "" {
				fmt.Fprint(out, "Password: ")
				var err error
				if password, err = readPassword(stdin); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				fmt.Fprintln(out)
			}
			if _, err := s.bridge.SignIn(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in as %s\n", s.states.Get().User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (optional, will prompt if omitted)")
	return cmd
}

func newLogoutCmd(get func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := get()
			err := s.bridge.SignOut(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return err
		},
	}
}

func newWhoamiCmd(get func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := get()
			if err := requireSession(s); err != nil {
				return err
			}
			p := s.profile.Profile()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:     %s\n", p.FullName)
			fmt.Fprintf(out, "Email:    %s\n", p.Email)
			fmt.Fprintf(out, "Currency: %s (%s)\n", s.currency.Currency(), s.currency.Symbol())
			if sess := s.states.Get().Session; sess != nil && !sess.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Session:  expires %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newCurrencyCmd(get func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "currency [code]",
		Short: "Show or set the display currency",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := get()
			if len(args) == 1 {
				if err := s.currency.SetCurrency(args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", s.currency.Currency(), s.currency.Symbol())
			return nil
		},
	}
}

func newBudgetCmd(get func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "budget [month] [amount]",
		Short: "Show or set a monthly budget (month is YYYY-MM)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := get()
			if err := requireSession(s); err != nil {
				return err
			}
			month := prefs.MonthKey(time.Now())
			if len(args) > 0 {
				month = args[0]
				if _, err := prefs.ParseMonth(month); err != nil {
					return err
				}
			}
			if len(args) == 2 {
				amount, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("amount must be a number: %w", err)
				}
				if err := s.budget.SetBudget(month, amount); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%.2f\n", month, s.currency.Symbol(), s.budget.GetBudget(month))
			return nil
		},
	}
}

func newProfileCmd(get func() *session) *cobra.Command {
	var name, avatar string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the display name or avatar",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := get()
			if err := requireSession(s); err != nil {
				return err
			}
			var u prefs.ProfileUpdate
			if cmd.Flags().Changed("name") {
				u.FullName = &name
			}
			if cmd.Flags().Changed("avatar") {
				u.AvatarURL = &avatar
			}
			p, err := s.profile.Update(u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile saved for %s\n", p.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar URL")
	return cmd
}

func newSubscribeCmd(get func() *session, stdin io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe [offering]",
		Short: "Open the subscription paywall",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := get()
			if err := requireSession(s); err != nil {
				return err
			}
			offering := "default"
			if len(args) == 1 {
				offering = args[0]
			}

			ents, err := persist.NewSlice(s.kv, persist.KeyEntitlements, paywall.Entitlements{}, s.logger)
			if err != nil {
				return err
			}
			ents.Hydrate(cmd.Context())
			defer ents.Close()

			presenter := &terminalPresenter{in: stdin, out: cmd.OutOrStdout(), customerID: s.states.Get().User.ID}
			if err := paywall.NewController(presenter, ents.Store(), s.logger).Show(cmd.Context(), offering); err != nil {
				return err
			}
			if active := ents.Get().Active; len(active) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Active: %s\n", strings.Join(active, ", "))
			}
			return nil
		},
	}
}

// terminalPresenter is a text paywall: the user types purchase, restore or
// anything else to dismiss.
type terminalPresenter struct {
	in         io.Reader
	out        io.Writer
	customerID string
}

func (p *terminalPresenter) Present(_ context.Context, offering string, cb paywall.Callbacks) error {
	fmt.Fprintf(p.out, "Daily PA Pro (%s)\n  purchase | restore | cancel\n> ", offering)
	choice, err := readLine(p.in)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	info := paywall.CustomerInfo{
		CustomerID:         p.customerID,
		ActiveEntitlements: []string{"pro"},
		LatestExpiration:   time.Now().AddDate(0, 1, 0),
	}
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "purchase":
		cb.OnPurchaseCompleted(info)
	case "restore":
		cb.OnRestoreCompleted(info)
	default:
		cb.OnDismiss()
	}
	return nil
}

func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
	return readLine(in)
}

func readLine(in io.Reader) (string, error) {
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
