package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sporkfed/sporkfed-bot/internal/config"
	"github.com/sporkfed/sporkfed-bot/internal/gh"
	"github.com/sporkfed/sporkfed-bot/internal/sync"
	"github.com/sporkfed/sporkfed-bot/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// Sync command flags
	syncOwner         string
	syncRepo          string
	syncDefaultBranch string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sporkfed",
	Short: "Mirror files between GitHub repositories through pull requests",
	Long: `sporkfed keeps files in GitHub repositories aligned with their upstream
counterparts. Each repository declares what it mirrors in a rule file; when
its default branch moves, sporkfed fetches the upstream content and proposes
any difference as a pull request on a disposable sync branch.

It can run as a long-running webhook daemon that reacts to GitHub push
events, or as a one-shot evaluation against a named repository.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Evaluate the sync rules of a repository once",
	Long: `Sync loads the rule file of the given repository, compares every mirrored
file with its upstream source, and opens a pull request for each difference.

With --dry-run the decisions are logged but no branch, commit or pull
request is created.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook daemon",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push
webhooks and evaluates the pushed repository's sync rules whenever its
default branch moves.

This mode requires the serve section of the configuration: a listen address
and the webhook secret file.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sporkfed %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/sporkfed/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().StringVar(&syncOwner, "owner", "", "owner of the repository to evaluate")
	syncCmd.Flags().StringVar(&syncRepo, "repo", "", "name of the repository to evaluate")
	syncCmd.Flags().StringVar(&syncDefaultBranch, "default-branch", "main", "default branch of the repository")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log decisions without making changes")
	_ = syncCmd.MarkFlagRequired("owner")
	_ = syncCmd.MarkFlagRequired("repo")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := buildEngine(ctx, cfg, logger, dryRun)
	if err != nil {
		return err
	}

	// A one-shot run behaves like a push to the default branch tip.
	ev := sync.PushEvent{
		Owner:         syncOwner,
		Repo:          syncRepo,
		Ref:           "refs/heads/" + syncDefaultBranch,
		DefaultBranch: syncDefaultBranch,
	}

	logger.Info("starting sync evaluation", "repo", syncOwner+"/"+syncRepo, "dry_run", dryRun)
	if err := engine.Evaluate(ctx, ev); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid serve configuration: %w", err)
	}

	engine, err := buildEngine(ctx, cfg, logger, false)
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

// buildEngine wires the API client and the rule engine from configuration.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*sync.Engine, error) {
	token, err := gh.TokenFromFile(cfg.GitHub.TokenFile)
	if err != nil {
		return nil, err
	}
	if token == "" {
		logger.Warn("no API token configured, using unauthenticated client")
	}

	client, err := gh.NewRESTClient(ctx, token, cfg.GitHub.BaseURL)
	if err != nil {
		return nil, err
	}

	return sync.NewEngine(cfg, client, logger, dryRun), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
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

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/sporkfed/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"rules_path", cfg.Rules.Path,
		"branch_prefix", cfg.Sync.BranchPrefix,
		"base_url", cfg.GitHub.BaseURL)

	return cfg, nil
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
