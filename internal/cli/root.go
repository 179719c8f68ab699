// Package cli provides the command-line interface for pricewatch.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/pricewatch/internal/config"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Loaded in PersistentPreRunE
	cfg       config.Config
	backend   store.Backend
	logCloser func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Competitor pricing page scraper",
	Long: `Pricewatch keeps a versioned record of competitor pricing plans.

A worker listens for new scrape sessions, renders each competitor's pricing
page, lets a language model turn the page text into structured plans and
stores them as the competitor's current generation. Older generations stay
in the database flagged as not current.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version, help and shell completion
		switch cmd.Name() {
		case "version", "help", "completion", cobra.ShellCompRequestCmd:
			return nil
		}
		if cmd.HasParent() && cmd.Parent().Name() == "completion" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		var logger *slog.Logger
		logger, logCloser = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var err error
		backend, err = openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		if err := backend.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with ctx, which is cancelled on shutdown signals.
// Resources opened by PersistentPreRunE are released even when the command fails.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	cleanup()
	return err
}

func cleanup() {
	if backend != nil {
		if err := backend.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
		backend = nil
	}
	if logCloser != nil {
		_ = logCloser()
		logCloser = nil
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(competitorsCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(sessionCmd)
}
