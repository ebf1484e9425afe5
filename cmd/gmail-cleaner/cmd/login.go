package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/oauth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize access to a Gmail account",
	Long: `Run the OAuth browser flow and store the resulting token.

The token is written to the tokens directory under the data directory
and reused by every other command until 'signout'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokenPath(), logger)
		if err != nil {
			return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
		}

		if err := mgr.Authorize(cmd.Context()); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}

		fmt.Printf("Authorized. Token stored at %s\n", mgr.TokenPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
