package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/statusd/internal/alert"
	"github.com/hazz-dev/statusd/internal/checker"
	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/dashboard"
	"github.com/hazz-dev/statusd/internal/scheduler"
	"github.com/hazz-dev/statusd/internal/server"
	"github.com/hazz-dev/statusd/internal/snapshot"
	"github.com/hazz-dev/statusd/internal/storage"
	"github.com/hazz-dev/statusd/internal/version"
)

var (
	cfgFile   string
	logFormat string
	logLevel  string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "statusd",
		Short:        "Self-hosted uptime status page",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), logFormat, logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())

	return root
}

// newLogger builds the process logger from the --log-format and --log-level flags.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "statusd %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the checker and the status API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	services := cfg.Services()
	logger.Info("config loaded", "servers", len(cfg.Servers), "services", len(services))

	// 2. Open SQLite
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 3. Build scheduler
	timeout := cfg.CheckTimeout.Duration
	factory := func(svc config.Service) (checker.Checker, error) {
		return checker.New(svc, timeout)
	}
	sched := scheduler.New(services, db, factory, logger)

	// 4. Build alerter (if configured)
	if cfg.Alerts.Webhook.URL != "" {
		alerter := alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)
		sched.SetOnResult(alerter.Notify)
	}

	// 5. Build snapshot cache and API server
	cache := snapshot.NewCache(db, cfg.Servers, cfg.HistoryDays, logger)
	apiServer := server.New(cache, logger)

	// 6. Mount routes on a single mux
	mux := http.NewServeMux()
	mux.Handle("/dashboard/", http.StripPrefix("/dashboard", dashboard.Handler()))
	mux.Handle("/", apiServer.Router())

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 8. Start scheduler
	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	// 9. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Address())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 10. Wait for signal, scheduler failure or server error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-schedErr:
		if err != nil {
			logger.Error("scheduler stopped", "error", err)
			runErr = fmt.Errorf("scheduler: %w", err)
		}
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	// 11. Graceful shutdown
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a one-off check of all configured services",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current status snapshot from the database",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db, cfg)
}
