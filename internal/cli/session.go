package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Show the status of a scrape session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := backend.GetSession(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}

		fmt.Printf("Session:    %s\n", s.ID)
		fmt.Printf("Competitor: %s\n", s.CompetitorID)
		fmt.Printf("Status:     %s\n", s.Status)
		fmt.Printf("Stage:      %s\n", s.Stage)
		fmt.Printf("Created:    %s\n", s.ScrapedAt.Local().Format(time.DateTime))
		if s.FinishedAt != nil {
			fmt.Printf("Finished:   %s (%s)\n", s.FinishedAt.Local().Format(time.DateTime),
				s.FinishedAt.Sub(s.ScrapedAt).Round(time.Second))
		}
		if s.ErrorMessage != nil {
			fmt.Printf("Error:      %s\n", *s.ErrorMessage)
		}
		return nil
	},
}
