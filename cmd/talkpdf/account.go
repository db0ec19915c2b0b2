package main

import (
	"errors"

	"github.com/spf13/cobra"

	"talk-pdf/internal/session"
)

// --- signup ---

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		client, file, err := authClient()
		if err != nil {
			return err
		}
		email, password, err = promptCredentials(ctx, email, password)
		if errors.Is(err, session.ErrCancelled) {
			printWarning("Cancelled")
			return nil
		}
		if err != nil {
			return err
		}

		sess, err := client.SignUp(ctx, email, password)
		if err != nil {
			return err
		}
		if sess.AccessToken == "" {
			printSuccess("Account created for %s", email)
			printStep(`Confirm your email, then run "talkpdf login"`)
			return nil
		}
		if err := file.Save(sess); err != nil {
			return err
		}
		printSuccess("Signed up and logged in as %s", sess.User.Email)
		return nil
	},
}

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		client, file, err := authClient()
		if err != nil {
			return err
		}
		email, password, err = promptCredentials(ctx, email, password)
		if errors.Is(err, session.ErrCancelled) {
			printWarning("Cancelled")
			return nil
		}
		if err != nil {
			return err
		}

		sess, err := client.SignIn(ctx, email, password)
		if err != nil {
			return err
		}
		if err := file.Save(sess); err != nil {
			return err
		}
		printSuccess("Logged in as %s", sess.User.Email)
		printStatus("Session", "%s", file.Path())
		return nil
	},
}

// --- logout ---

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd.Context(), formPrompter{})
		if errors.Is(err, errNotLoggedIn) {
			printWarning("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Controller.SignOut(cmd.Context()); err != nil {
			printWarning("Remote sign-out failed: %v", err)
		}
		printSuccess("Logged out")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{signupCmd, loginCmd} {
		cmd.Flags().String("email", "", "account email")
		cmd.Flags().String("password", "", "account password (prompted when omitted)")
	}
}
