package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivist-project/archivist-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves
// (or need none at all), skipping the automatic resolution in
// PersistentPreRunE.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config holder and logger, built once in
// PersistentPreRunE and threaded through every command via its context.
type CLIContext struct {
	Holder *config.Holder
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext extracts the CLIContext or panics — a programmer error,
// since every command except those annotated skipConfigAnnotation is
// guaranteed one by PersistentPreRunE.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command must not skip config loading")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "archivist-sync",
		Short:         "Desktop companion for a content-addressed storage node",
		Long:          "Watches folders, syncs them through a local storage node, and replicates them to backup peers.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the node/sync data directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSourceCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newNodeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newTriggerCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain (defaults -> file -> env -> flags) and stores it in the
// command's context for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, DataDir: flagDataDir}

	path := config.ResolveConfigPath(env, cli)

	logger.Debug("resolving config", slog.String("path", path))

	cfg, err := config.LoadOrDefault(path, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := cfg.Node.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	if cli.DataDir != "" {
		dataDir = cli.DataDir
	}

	cfg.Node.DataDir = dataDir

	finalLogger := buildLogger(cfg)
	holder := config.NewHolder(cfg, path)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{Holder: holder, Logger: finalLogger}))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for the pre-config bootstrap logger. Config-file log
// level provides the baseline; --verbose, --debug, and --quiet override it
// since CLI flags always win. The flags are mutually exclusive (enforced
// by Cobra).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func statusf(format string, args ...any) {
	if flagQuiet {
		return
	}

	fmt.Printf(format, args...)
}
