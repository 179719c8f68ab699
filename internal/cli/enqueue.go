package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enqueueWait bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <competitor-id>",
	Short: "Create a pending scrape session for the worker",
	Long: `Create a pending scrape session. A running worker picks it up through
its subscription; with --wait a progress bar follows the session until it
succeeds or fails.

Examples:
  pricewatch enqueue acme
  pricewatch enqueue acme --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().BoolVarP(&enqueueWait, "wait", "w", false, "follow the session until it finishes")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	competitor, err := backend.GetCompetitor(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get competitor: %w", err)
	}
	session, err := backend.CreateSession(ctx, competitor.ID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fmt.Printf("Session %s queued for %s\n", session.ID, competitor.Name)
	if !enqueueWait {
		return nil
	}
	return RunSessionProgress(backend, session)
}
