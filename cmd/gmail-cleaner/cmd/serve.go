package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/api"
	"github.com/sruckh/gmail-cleaner/internal/engine"
	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/job"
	"github.com/sruckh/gmail-cleaner/internal/oauth"
	"github.com/sruckh/gmail-cleaner/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run gmail-cleaner as a long-running daemon.

The daemon runs in the foreground and provides:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled recurring delete scans from [[schedules]] config entries

Configure schedules in config.toml:
  [[schedules]]
  name = "nightly promo scan"
  cron = "0 2 * * *"   # 2am daily (cron format)
  limit = 2000
  enabled = true
  [schedules.filter]
  category = "promotions"

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokenPath(), logger)
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	// A missing token is not fatal here: the server starts and every
	// Gmail-touching endpoint reports 401 until the user logs in.
	var client gmail.API
	if oauthMgr.HasToken() {
		tokenSource, err := oauthMgr.TokenSource(cmd.Context())
		if err != nil {
			logger.Warn("stored token unusable, starting unauthenticated", "error", err)
		} else {
			rateLimiter := gmail.NewRateLimiter(float64(cfg.Engine.RateLimitQPS))
			c := gmail.NewClient(tokenSource,
				gmail.WithLogger(logger),
				gmail.WithRateLimiter(rateLimiter),
			)
			defer c.Close()
			client = c
		}
	} else {
		logger.Warn("no stored token, run 'gmail-cleaner login' to authenticate")
	}

	opts := engine.Options{
		ChunkSize:   cfg.Engine.ChunkSize,
		MaxRetries:  cfg.Engine.MaxRetries,
		BackoffBase: cfg.Engine.BackoffBase(),
		PageSize:    cfg.Engine.PageSize,
		MaxCollect:  cfg.Engine.MaxCollect,
	}
	eng := engine.New(client, job.NewRegistry(), opts, logger)
	defer eng.Close()

	// Scheduler for recurring delete scans
	sched := scheduler.New(eng.StartDeleteScan).WithLogger(logger)
	count, errs := sched.AddFromConfig(cfg)
	for _, err := range errs {
		logger.Error("failed to add schedule", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	apiServer := api.NewServer(cfg, eng, oauthMgr, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("gmail-cleaner daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Schedules: %d\n", count)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	for _, status := range sched.Status() {
		fmt.Printf("  %s: next scan at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return err
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Shutdown complete.")
	return nil
}
