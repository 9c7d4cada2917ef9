package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/ingest"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/pipeline"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// --- refresh command ---

var (
	dryRun      bool
	refreshFile string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run the full pipeline: ingest -> enrich -> classify -> summarize",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.PaidTrafficNames()
		if err != nil {
			return err
		}

		var deps pipeline.Deps
		deps.Targets = targets
		deps.Logger = logger

		if refreshFile != "" {
			deps.Source = ingest.FileSource{Path: refreshFile}
		} else {
			key, err := cfg.MarketplaceAPIKey()
			if err != nil && !dryRun {
				return err
			}
			deps.Source = ingest.APISource{
				Client:   ingest.NewClient(cfg.Marketplace, key, logger),
				Statuses: cfg.Marketplace.Statuses,
			}
		}

		client, err := newCRMClient()
		if err != nil {
			if !errors.Is(err, config.ErrMissingCredential) {
				return err
			}
			logger.Warn("CRM credentials missing, skipping enrichment", zap.Error(err))
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if client != nil {
			deps.Enricher = crm.NewEnricher(db, client, cfg.CRM.BatchSize, logger)
		}
		switch {
		case cfg.Cohorts.GrantProgram.MembersFile != "":
			deps.Membership = cohort.FileMembership{Path: cfg.Cohorts.GrantProgram.MembersFile}
		case client != nil:
			deps.Membership = client
		}

		pipe := pipeline.New(cfg, db, deps)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun()
		} else {
			result = pipe.Run(cmd.Context())
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/4: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Failed() {
			return errors.New("refresh did not complete")
		}
		if result.Comparison != nil {
			if err := report.Table(os.Stdout, result.Comparison.SummaryData(report.Human)); err != nil {
				return err
			}
			fmt.Println("\nRefresh complete! Run 'aqa report cohorts' for the full comparison.")
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	refreshCmd.Flags().StringVar(&refreshFile, "file", "", "Ingest from an export file instead of the marketplace API")
}
