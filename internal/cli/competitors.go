package cli

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

var competitorID string

var competitorsCmd = &cobra.Command{
	Use:   "competitors",
	Short: "Manage tracked competitors",
	Long: `Manage the competitors whose pricing pages are scraped.

Subcommands:
  add     Add or update one competitor
  list    List all competitors
  import  Add or update competitors from a YAML file

Examples:
  pricewatch competitors add "Acme" https://acme.com/pricing --id acme
  pricewatch competitors list
  pricewatch competitors import competitors.yaml`,
}

var competitorsAddCmd = &cobra.Command{
	Use:   "add <name> <pricing-page-url>",
	Short: "Add or update a competitor",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompetitorsAdd,
}

var competitorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List competitors",
	Args:  cobra.NoArgs,
	RunE:  runCompetitorsList,
}

var competitorsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import competitors from YAML",
	Long: `Import competitors from a YAML file. Entries with an id replace the
existing competitor with that id.

File format:
  competitors:
    - id: acme
      name: Acme
      pricing_page_url: https://acme.com/pricing`,
	Args: cobra.ExactArgs(1),
	RunE: runCompetitorsImport,
}

func init() {
	competitorsAddCmd.Flags().StringVar(&competitorID, "id", "", "competitor id (generated when empty)")

	competitorsCmd.AddCommand(competitorsAddCmd)
	competitorsCmd.AddCommand(competitorsListCmd)
	competitorsCmd.AddCommand(competitorsImportCmd)
}

// competitorFile is the YAML import format.
type competitorFile struct {
	Competitors []models.Competitor `yaml:"competitors"`
}

func validateCompetitor(c models.Competitor) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	u, err := url.Parse(c.PricingPageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid pricing page url %q", c.PricingPageURL)
	}
	return nil
}

func runCompetitorsAdd(cmd *cobra.Command, args []string) error {
	c := models.Competitor{ID: competitorID, Name: args[0], PricingPageURL: args[1]}
	if err := validateCompetitor(c); err != nil {
		return err
	}
	saved, err := backend.CreateCompetitor(cmd.Context(), c)
	if err != nil {
		return fmt.Errorf("save competitor: %w", err)
	}
	fmt.Printf("Saved %s (%s)\n", saved.Name, saved.ID)
	return nil
}

func runCompetitorsList(cmd *cobra.Command, args []string) error {
	competitors, err := backend.ListCompetitors(cmd.Context())
	if err != nil {
		return fmt.Errorf("list competitors: %w", err)
	}
	if len(competitors) == 0 {
		fmt.Println("No competitors yet.")
		return nil
	}
	for _, c := range competitors {
		fmt.Printf("%-36s  %-20s  %s\n", c.ID, c.Name, c.PricingPageURL)
	}
	return nil
}

func runCompetitorsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	var file competitorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	for i, c := range file.Competitors {
		if err := validateCompetitor(c); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	for _, c := range file.Competitors {
		saved, err := backend.CreateCompetitor(cmd.Context(), c)
		if err != nil {
			return fmt.Errorf("save %s: %w", c.Name, err)
		}
		fmt.Printf("Saved %s (%s)\n", saved.Name, saved.ID)
	}
	fmt.Printf("\n%d competitor(s) imported\n", len(file.Competitors))
	return nil
}
