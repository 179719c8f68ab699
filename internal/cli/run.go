package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run <competitor-id>",
	Short: "Scrape one competitor now",
	Long: `Create a scrape session for a competitor and process it in the foreground.

With --dry-run the competitor is read from the configured store but the
session, plans and archival all happen in memory, so the database is left
untouched. Useful for checking a new pricing page or a prompt change.

Examples:
  pricewatch run acme
  pricewatch run acme --dry-run
  FETCH_MODE=http pricewatch run acme --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "process in memory without writing to the store")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	competitorID := args[0]

	competitor, err := backend.GetCompetitor(ctx, competitorID)
	if err != nil {
		return fmt.Errorf("get competitor: %w", err)
	}

	var target store.Backend = backend
	if runDryRun {
		mem := store.NewMemory()
		if _, err := mem.CreateCompetitor(ctx, *competitor); err != nil {
			return err
		}
		target = mem
	}

	orch, closeOrch, err := newOrchestrator(ctx, cfg, target, metrics.NewCollector())
	if err != nil {
		return err
	}
	defer closeOrch()

	session, err := target.CreateSession(ctx, competitor.ID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Printf("Scraping %s (%s)\nSession: %s\n\n", competitor.Name, competitor.PricingPageURL, session.ID)

	out := orch.Process(ctx, *session)
	if out.Skipped {
		if out.Err != nil {
			return fmt.Errorf("session %s not started: %w", out.SessionID, out.Err)
		}
		fmt.Printf("A running worker picked up session %s first.\nFollow it with: pricewatch session %s\n", out.SessionID, out.SessionID)
		return nil
	}
	if out.Status != models.SessionSuccess {
		return fmt.Errorf("session %s failed: %w", out.SessionID, out.Err)
	}

	printPlans(os.Stdout, out.Plans)
	fmt.Printf("\n%d plan(s) stored, %d archived in %s", len(out.Plans), out.Archived, out.Duration.Round(time.Millisecond))
	if runDryRun {
		fmt.Print(" (dry run, nothing written)")
	}
	fmt.Println()
	return nil
}
