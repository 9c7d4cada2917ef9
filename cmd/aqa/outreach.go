package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/outreach"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// --- outreach command ---

var (
	outreachTop       int
	outreachCRM       bool
	outreachGrantOnly bool
	outreachOutput    string
)

var outreachCmd = &cobra.Command{
	Use:   "outreach [builder_id...]",
	Short: "Build an outreach sheet for selected builders",
	Long: "Build an outreach sheet for the given builders, or for the top builders by public agent count.\n" +
		"Contact fields come from the builder cache; --crm refreshes them live.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts outreach.Options
		opts.TopTags = cfg.Reports.TopTags
		opts.Logger = logger
		if outreachCRM {
			client, err := newCRMClient()
			if err != nil {
				return err
			}
			opts.Finder = client
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		public, err := db.GetAgents(database.AgentFilter{Status: database.StatusPublic})
		if err != nil {
			return err
		}
		cached, err := db.GetBuilders()
		if err != nil {
			return err
		}

		var within cohort.Set
		if outreachGrantOnly {
			stored, err := loadStored(db)
			if err != nil {
				return err
			}
			within = cohort.GrantBuilders(public, stored.Grant())
			if len(within) == 0 {
				fmt.Println("No grant program agents. Run 'aqa classify' first.")
				return nil
			}
		}
		ids := outreach.Select(public, args, outreachTop, within)
		if len(ids) == 0 {
			fmt.Println("No builders selected.")
			return nil
		}

		fmt.Printf("Building outreach sheet for %d builders...\n", len(ids))
		rows, err := outreach.Build(cmd.Context(), ids, public, cached, opts)
		if err != nil {
			return err
		}

		path := outputPath(outreachOutput, "builder_outreach.csv")
		if err := report.WriteCSV(path, outreach.Data(rows, report.Plain)); err != nil {
			return err
		}

		with, without := outreach.Coverage(rows)
		fmt.Println("\nOutreach sheet complete:")
		fmt.Printf("  Builders: %d\n", len(rows))
		fmt.Printf("  With email: %d\n", len(with))
		fmt.Printf("  Missing email: %d\n", len(without))
		if len(without) > 0 {
			if err := report.Table(os.Stdout, outreach.MissingData(without, report.Human)); err != nil {
				return err
			}
		}
		printWritten([]string{path})
		return nil
	},
}

func init() {
	outreachCmd.Flags().IntVar(&outreachTop, "top", 20, "Builders to select by public agent count when none are given (0 = all)")
	outreachCmd.Flags().BoolVar(&outreachCRM, "crm", false, "Refresh contact fields from the CRM")
	outreachCmd.Flags().BoolVar(&outreachGrantOnly, "grant-only", false, "Only select builders of grant program agents")
	outreachCmd.Flags().StringVarP(&outreachOutput, "output", "o", "", "CSV file to write (default: builder_outreach.csv in the data directory)")
}
