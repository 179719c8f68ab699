package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

var plansCmd = &cobra.Command{
	Use:   "plans <competitor-id>",
	Short: "Show a competitor's current pricing plans",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlans,
}

func runPlans(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	competitor, err := backend.GetCompetitor(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get competitor: %w", err)
	}
	plans, err := backend.ListCurrentPlans(ctx, competitor.ID)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}

	fmt.Printf("%s (%s)\n\n", competitor.Name, competitor.PricingPageURL)
	if len(plans) == 0 {
		fmt.Println("No current plans. Run 'pricewatch run " + competitor.ID + "' to scrape.")
		return nil
	}
	printPlans(os.Stdout, plans)
	return nil
}

var (
	planNameStyle = lipgloss.NewStyle().Bold(true).Foreground(defaultTheme.Status)
	priceStyle    = lipgloss.NewStyle().Foreground(defaultTheme.Success)
	dimStyle      = lipgloss.NewStyle().Foreground(defaultTheme.Hint)
)

// printPlans writes one block per plan. Styling is applied only on a terminal.
func printPlans(w io.Writer, plans []models.PricingPlan) {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	for i, p := range plans {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s  %s\n", render(planNameStyle, p.Name), render(priceStyle, formatPrice(p)))
		if p.Description != "" {
			fmt.Fprintf(w, "  %s\n", render(dimStyle, p.Description))
		}
		for _, f := range p.Features {
			fmt.Fprintf(w, "  • %s\n", f)
		}
	}
}

// formatPrice renders "29.00 USD / monthly", or "custom" when there is no price.
func formatPrice(p models.PricingPlan) string {
	if p.Price == nil {
		return "custom"
	}
	cycle := strings.ReplaceAll(string(p.BillingCycle), "_", " ")
	return fmt.Sprintf("%.2f %s / %s", *p.Price, p.Currency, cycle)
}
