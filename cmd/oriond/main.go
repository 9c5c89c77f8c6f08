package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bohdan6992/orion-daily/internal/config"
	"github.com/bohdan6992/orion-daily/internal/daily"
	"github.com/bohdan6992/orion-daily/internal/git"
	"github.com/bohdan6992/orion-daily/internal/job"
	"github.com/bohdan6992/orion-daily/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	homeDir   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oriond",
	Short: "Run the OriON daily strategy pipeline",
	Long: `oriond keeps the STRATEGIES checkout in sync with its remote, runs the
CRACEN data-preparation notebook followed by every strategy notebook, and
publishes the produced signals and status to the results repository.

It can run once (via cron or a systemd timer) or as a long-running webhook
daemon that triggers a run on GitHub push events.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one full daily run",
	Long: `Run synchronizes the strategies checkout (atomic clone-and-swap by
default), stages the Datum API secrets, executes CRACEN and each dependent
strategy notebook, publishes signals/ and status/ to the results repository,
and persists status/latest.json after every phase.

The exit code is 0 only when CRACEN succeeded, produced its artifact, and
the publish step reported no error.`,
	RunE: runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub webhook
events and triggers a full daily run when the strategies repository is
pushed. Requires the serve section of the ops config to be enabled.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("oriond %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "OriON home directory (default is $ORION_HOME, then the executable's directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	home, err := config.ResolveHome(homeDir)
	if err != nil {
		return err
	}
	logger.Info("starting daily run", "home", home)

	engine := daily.NewEngine(home, git.NewShellClient(), &job.PapermillExecutor{}, logger)
	if code := engine.Run(ctx); code != 0 {
		logger.Error("daily run finished with failures", "exit_code", code)
		os.Exit(code)
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	home, err := config.ResolveHome(homeDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.OpsConfigPath(home))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in %s", config.OpsConfigPath(home))
	}

	engine := daily.NewEngine(home, git.NewShellClient(), &job.PapermillExecutor{}, logger)

	server, err := webhook.NewServer(cfg.Serve, engine.Run, logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
