package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/ingest"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// --- ingest command ---

var (
	ingestMerge    bool
	ingestStatuses []string
	ingestTag      string
	ingestLimit    int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load marketplace agents into the local store",
}

var ingestAPICmd = &cobra.Command{
	Use:   "api",
	Short: "Fetch agents from the marketplace API",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := cfg.MarketplaceAPIKey()
		if err != nil {
			return err
		}
		statuses := ingestStatuses
		if len(statuses) == 0 {
			statuses = cfg.Marketplace.Statuses
		}
		return runIngest(cmd, ingest.APISource{
			Client:   ingest.NewClient(cfg.Marketplace, key, logger),
			Statuses: statuses,
			Tag:      ingestTag,
			Limit:    ingestLimit,
		})
	},
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Import agents from a TSV or CSV export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, ingest.FileSource{Path: args[0]})
	},
}

func runIngest(cmd *cobra.Command, src ingest.Source) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Loading agents from %s...\n", src.Name())
	res, err := ingest.Run(cmd.Context(), db, src, ingestMerge, logger)
	if err != nil {
		return err
	}

	fmt.Println("\nIngest complete:")
	fmt.Printf("  Fetched: %d\n", res.Fetched)
	fmt.Printf("  Duplicates collapsed: %d\n", res.Duplicates)
	fmt.Printf("  Stored: %d (%d public, %d private)\n", res.Stored, res.Public, res.Private)
	if !ingestMerge {
		fmt.Println("\nGrant tags were cleared. Run 'aqa classify' to re-derive cohorts.")
	}
	return nil
}

func init() {
	ingestCmd.PersistentFlags().BoolVar(&ingestMerge, "merge", false, "Upsert into the stored set instead of replacing it")
	ingestAPICmd.Flags().StringSliceVar(&ingestStatuses, "status", nil, "Agent statuses to fetch (default from config)")
	ingestAPICmd.Flags().StringVar(&ingestTag, "tag", "", "Only fetch agents with this tag")
	ingestAPICmd.Flags().IntVar(&ingestLimit, "limit", 0, "Maximum agents per status (0 = all)")

	ingestCmd.AddCommand(ingestAPICmd)
	ingestCmd.AddCommand(ingestFileCmd)
}

// --- enrich command ---

var (
	enrichForce     bool
	enrichBatchSize int
	enrichOutput    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Cache builder profiles and look up their CRM contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCRMClient()
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := db.GetAgents(database.AgentFilter{})
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("No agents stored. Run 'aqa ingest' first.")
			return nil
		}

		batch := enrichBatchSize
		if batch == 0 {
			batch = cfg.CRM.BatchSize
		}
		enricher := crm.NewEnricher(db, client, batch, logger)

		fmt.Printf("Enriching builders of %d agents...\n", len(agents))
		res, err := enricher.Enrich(cmd.Context(), agents, enrichForce)
		if err != nil {
			return err
		}

		fmt.Println("\nEnrichment complete:")
		fmt.Printf("  Builders attributed: %d\n", res.Builders)
		fmt.Printf("  Already enriched: %d\n", res.Skipped)
		fmt.Printf("  Looked up: %d\n", res.Requested)
		fmt.Printf("  Found in CRM: %d\n", res.Found)
		fmt.Printf("  Batches: %d succeeded, %d failed\n", res.Batches-res.FailedBatches, res.FailedBatches)
		fmt.Printf("  API calls: %d\n", client.Calls())

		if enrichOutput == "" {
			return nil
		}
		builders, err := db.GetBuilders()
		if err != nil {
			return err
		}
		if err := report.WriteCSV(enrichOutput, report.BuilderCacheData(builders, report.Plain)); err != nil {
			return err
		}
		fmt.Printf("\nWrote %d builders to %s\n", len(builders), enrichOutput)
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "Look up builders that already have CRM data")
	enrichCmd.Flags().IntVar(&enrichBatchSize, "batch-size", 0, "Builders per CRM search, at most 5 (default from config)")
	enrichCmd.Flags().StringVarP(&enrichOutput, "output", "o", "", "Write the builder cache to this CSV file")
}
