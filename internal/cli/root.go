// Package cli provides the command-line interface for lorekeeper.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, loaded before every command
	cfg      config.Config
	closeLog = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lorekeeper",
	Short: "Extract lore from roleplay chat transcripts",
	Long: `Lorekeeper scans roleplay chat transcripts in overlapping chunks, asks a
language model for the characters, factions, locations and items they mention,
and queues the merged results for review.

Scans are incremental: a checkpoint per transcript records how far it has been
processed, so only new messages are sent to the model.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		// stderr stays quiet unless asked; the log file keeps the configured level
		stderrLevel := slog.LevelWarn
		if verbose {
			stderrLevel = slog.LevelDebug
		}
		logger, cleanup := config.SetupLoggerLevels(cfg.LogFile, stderrLevel, min(cfg.LogLevel, stderrLevel))
		slog.SetDefault(logger)
		closeLog = cleanup

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// openApp wires storage and the scan service for one command.
// The language model is created lazily, so read-only commands need no credentials.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return app.New(ctx, cfg, opts)
}

// closeApp closes a and reports failures on stderr.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context so scans stop at a chunk boundary.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
