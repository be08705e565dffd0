package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mercure-chat/core/cli"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in with an email and password. The session is stored in the state
directory and refreshed automatically while it remains valid.`,
		Example: `# Prompt for everything
mercure login

# Non-interactive
echo "$PASSWORD" | mercure login --email ada@example.org --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx, ctrl, done, err := e.session(cmd)
			if err != nil {
				return err
			}
			defer done()

			email, _ := cmd.Flags().GetString("email")
			remember, _ := cmd.Flags().GetBool("remember")
			fromStdin, _ := cmd.Flags().GetBool("password-stdin")

			prompt := cli.NewPrompter()
			if email == "" {
				email, err = prompt.Line("Email", ctrl.Session().RememberedEmail())
				if err != nil {
					return err
				}
			}

			var password string
			if fromStdin {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read password from stdin")
				}
				password = strings.TrimRight(line, "\r\n")
			} else if password, err = prompt.Secret("Password"); err != nil {
				return err
			}

			user, err := ctrl.Login(ctx, email, password, remember)
			if err != nil {
				return err
			}

			if e.opts.JSONOutput {
				return e.printJSON(user)
			}
			e.pretty.Success(fmt.Sprintf("Logged in as %s", user.DisplayName()))
			return nil
		},
	}
	cmd.Flags().String("email", "", "Account email (default: the remembered one)")
	cmd.Flags().Bool("remember", true, "Remember the email for the next login")
	cmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			_, ctrl, done, err := e.session(cmd)
			if err != nil {
				return err
			}
			defer done()

			if !ctrl.Session().IsAuthenticated() {
				e.pretty.InfoPretty("Not logged in")
				return nil
			}
			if err := ctrl.Logout(); err != nil {
				return err
			}
			e.pretty.Success("Logged out")
			return nil
		},
	}
}

type whoami struct {
	User      *models.User `json:"user"`
	Auth      string       `json:"auth"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	Valid     *bool        `json:"valid,omitempty"`
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx, ctrl, done, err := e.session(cmd)
			if err != nil {
				return err
			}
			defer done()

			sess := ctrl.Session().Current()
			if !sess.IsAuthenticated() {
				return errors.NotLoggedIn()
			}

			out := whoami{User: sess.User, Auth: sess.Credentials.Kind().String()}
			if exp, ok := ctrl.Session().ExpiresAt(); ok {
				out.ExpiresAt = &exp
			}
			if check, _ := cmd.Flags().GetBool("check"); check {
				valid, err := ctrl.API().CheckSession(ctx)
				if err != nil {
					return err
				}
				out.Valid = &valid
			}

			if e.opts.JSONOutput {
				return e.printJSON(out)
			}
			if out.User != nil {
				e.pretty.Field("Name", out.User.DisplayName())
				e.pretty.Field("Email", out.User.Email)
				if out.User.Username != "" {
					e.pretty.Field("Username", out.User.Username)
				}
			}
			e.pretty.Field("Auth", out.Auth)
			if out.ExpiresAt != nil {
				e.pretty.Field("Expires", out.ExpiresAt.Local().Format(time.RFC1123))
			}
			if out.Valid != nil {
				e.pretty.Field("Valid", *out.Valid)
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "Ask the backend whether the session is still valid")
	return cmd
}
