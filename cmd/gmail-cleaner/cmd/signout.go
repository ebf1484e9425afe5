package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/oauth"
)

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Delete the stored Gmail token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokenPath(), logger)
		if err != nil {
			return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
		}

		if !mgr.HasToken() {
			fmt.Println("No stored token.")
			return nil
		}
		if err := mgr.SignOut(); err != nil {
			return fmt.Errorf("sign out: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signoutCmd)
}
