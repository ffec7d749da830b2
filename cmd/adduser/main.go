package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dailypa/internal/localauth"
	"dailypa/internal/logging"
	"dailypa/internal/storage"
	"dailypa/internal/token"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := newCmd(stdin)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

func newCmd(stdin io.Reader) *cobra.Command {
	var (
		email    string
		password string
		name     string
		dbPath   string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:           "adduser --email <email> [--password <password>] [--db <db_path>]",
		Short:         "Create a local Daily PA account",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stdout := cmd.OutOrStdout()
			if email == "" {
				fmt.Fprintln(stdout, "Usage: "+cmd.Use)
				fmt.Fprint(stdout, cmd.Flags().FlagUsages())
				return errors.New("missing required flags: email")
			}

			if password == "" {
				fmt.Fprint(stdout, "Password: ")
				var err error
				password, err = readPassword(stdin)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				fmt.Fprintln(stdout)
			}
			if strings.TrimSpace(password) == "" {
				return errors.New("password cannot be empty")
			}

			// Allow overriding db path via env var if the flag was left at its default
			if path := os.Getenv("DB_PATH"); path != "" && !cmd.Flags().Changed("db") {
				dbPath = path
			}

			db, err := storage.NewDB(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			// Account creation never signs tokens; any secret will do.
			secret, err := localauth.EphemeralSecret()
			if err != nil {
				return err
			}
			p, err := localauth.New(db, token.NewSigner(secret, ""), logging.Console(verbose))
			if err != nil {
				return err
			}

			var metadata map[string]any
			if name != "" {
				metadata = map[string]any{"full_name": name}
			}
			user, err := p.CreateAccount(context.Background(), email, password, metadata)
			if errors.Is(err, localauth.ErrUserExists) {
				return fmt.Errorf("user %s already exists", strings.ToLower(strings.TrimSpace(email)))
			}
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			fmt.Fprintf(stdout, "User %s created successfully with ID %s\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (optional, will prompt if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&dbPath, "db", "dailypa.db", "Path to database file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
