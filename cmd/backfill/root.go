package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/adsight/backfill/internal/chain"
	"github.com/adsight/backfill/internal/config"
	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/gaps"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/upstream"
)

const version = "0.1.0"

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore   *store.Store
	globalOrch    *engine.Orchestrator
	globalSched   *chain.Scheduler
	globalScanner *gaps.Scanner
)

// initStore opens the database and brings the schema up to date.
func initStore() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	s, err := store.OpenWithConfig(globalCfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := s.Migrate(); err != nil {
		s.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, err := s.SchemaVersion()
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("database schema ready", "dsn", globalCfg.Database.DSN, "version", version)

	globalStore = s
	return nil
}

// initEngine wires the upstream client, orchestrator, chain scheduler, and
// gap scanner. Requires initStore and a configured upstream.
func initEngine() error {
	client, err := upstream.NewClient(globalCfg.Upstream, logger)
	if err != nil {
		return fmt.Errorf("upstream not configured: %w", err)
	}

	executor := engine.NewExecutor(client, logger, nil)
	globalOrch = engine.NewOrchestrator(globalStore, executor, globalCfg.Pacing, logger, nil, nil)
	globalSched = chain.NewScheduler(globalStore, globalOrch, logger, nil)
	globalScanner = gaps.NewScanner(globalStore, executor, globalCfg.Pacing, logger, nil, globalCfg.Gaps.MinDays)
	return nil
}

func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// shouldSkipInit checks if a command can run without config or database.
func shouldSkipInit(cmdName string) bool {
	skipCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipCmds[cmdName]
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ad metrics backfill and gap healing engine",
		Long: `backfill imports historical ad performance metrics from the upstream
reporting service into the local metrics store. Imports run in rate-limited
batches with automatic retry, month-by-month chains survive restarts through
a durable queue, and the gap scanner detects and repairs holes in the daily
series.`,
		Example: `  backfill serve
  backfill run --project proj-1 --since 2025-01-01 --until 2025-06-30
  backfill gaps scan --project proj-1 --fix
  backfill projects add --id proj-1 --account act_1234 --name "Spring Campaign"`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipInit(cmd.Name()) {
				return nil
			}

			var err error
			globalCfg, err = config.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if logLevel != "" {
				globalCfg.Logging.Level = logLevel
			}

			return initStore()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (TOML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newGapsCmd(),
		newProjectsCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
