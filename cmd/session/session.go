// Package session implements the login, register and logout commands.
package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/backend"
)

// LoginCommand signs in and stores the session in the local snapshot.
func LoginCommand(opts *app.Options) *cobra.Command {
	var creds backend.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the farm services",
		Long: `Sign in and keep the session in the local snapshot.

The password is read from --password, the FARMDASH_PASSWORD environment
variable or an interactive prompt, in that order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, creds.Password)
			if err != nil {
				return err
			}
			creds.Password = password

			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Sessions.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", sess.Claims.Email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&creds.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "Account password")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// RegisterCommand creates an account and signs in with it.
func RegisterCommand(opts *app.Options) *cobra.Command {
	var reg backend.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, reg.Password)
			if err != nil {
				return err
			}
			reg.Password = password

			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Sessions.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", sess.Claims.Email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reg.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&reg.Password, "password", "p", "", "Account password")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&reg.Phone, "phone", "", "Phone number")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// LogoutCommand clears the session and every cached collection.
func LogoutCommand(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

// readPassword returns flagValue, FARMDASH_PASSWORD, or a line read from
// the command input. Terminal input is not echoed.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("FARMDASH_PASSWORD"); env != "" {
		return env, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
