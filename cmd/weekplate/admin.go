package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dukerupert/weekplate/internal/auth"
	"github.com/dukerupert/weekplate/internal/database"
	"github.com/dukerupert/weekplate/internal/push"
	"github.com/dukerupert/weekplate/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			// Open migrates on connect.
			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", cfg.Database.Path, version)
			return nil
		},
	}
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user, prompting for a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			email = strings.TrimSpace(email)
			if email == "" {
				return fmt.Errorf("--email is required")
			}

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			users := store.NewUserStore(db)
			existing, err := users.GetByEmail(email)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("user %s already exists", email)
			}
			u, err := users.Create(email, name, hash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s)\n", u.ID, u.Email)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&name, "name", "", "Display name")

	cmd.AddCommand(create)
	return cmd
}

// readPassword prompts on a terminal, or reads a line from stdin otherwise.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return line, nil
}

func newVAPIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Web push key utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new VAPID key pair as environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "WEEKPLATE_PUSH_VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "WEEKPLATE_PUSH_VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	})
	return cmd
}
