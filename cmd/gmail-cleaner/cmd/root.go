package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/config"
	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/oauth"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gmail-cleaner",
	Short: "Bulk mailbox cleanup for Gmail",
	Long: `gmail-cleaner scans a Gmail mailbox for bulk senders and runs
rate-limited batch operations against them: unsubscribe, delete,
archive, label, mark read or important, and CSV export.

Operations run as background jobs that are polled for progress, either
through the CLI or the HTTP API started by 'serve'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// oauthSetupHint returns help text for OAuth configuration issues.
func oauthSetupHint() string {
	return `
To use gmail-cleaner, you need a Google Cloud OAuth credential:
  1. Create an OAuth client in the Google Cloud console
  2. Download the client_secret.json file
  3. Create or edit ~/.gmail-cleaner/config.toml:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets
// are missing.
func errOAuthNotConfigured() error {
	return fmt.Errorf("OAuth client secrets not configured.%s", oauthSetupHint())
}

// wrapOAuthError wraps an oauth/client-secrets error with setup
// instructions if the root cause is a missing or unreadable secrets file.
func wrapOAuthError(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("OAuth client secrets file not accessible.%s", oauthSetupHint())
	}
	return err
}

// newGmailClient builds an authenticated Gmail client from the config.
func newGmailClient(ctx context.Context) (*gmail.Client, error) {
	if cfg.OAuth.ClientSecrets == "" {
		return nil, errOAuthNotConfigured()
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokenPath(), logger)
	if err != nil {
		return nil, wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	tokenSource, err := mgr.TokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token source: %w (run 'gmail-cleaner login' first)", err)
	}

	rateLimiter := gmail.NewRateLimiter(float64(cfg.Engine.RateLimitQPS))
	return gmail.NewClient(tokenSource,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(rateLimiter),
	), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.gmail-cleaner/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
