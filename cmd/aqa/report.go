package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/metrics"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report on cohorts, builders and agents",
}

func init() {
	reportCmd.PersistentFlags().StringVarP(&reportFormat, "format", "f", "", "Output format: table, json or yaml (default: table on a terminal, json when piped)")

	reportCmd.AddCommand(reportCohortsCmd)
	reportCmd.AddCommand(reportBuildersCmd)
	reportCmd.AddCommand(reportUserCmd)
	reportCmd.AddCommand(reportAgentsCmd)
}

func outputFormat() (report.Format, error) {
	f, err := report.ParseFormat(reportFormat)
	if err != nil {
		return "", err
	}
	return report.DetectFormat(f), nil
}

// emit prints grids as tables, or v as JSON or YAML.
func emit(f report.Format, v any, ds ...report.Data) error {
	if f == report.FormatTable {
		return report.Tables(os.Stdout, ds...)
	}
	return report.Encode(os.Stdout, f, v)
}

// --- report cohorts ---

var (
	cohortsCSVDir string
	cohortsXLSX   string
	cohortsHTML   string
)

var reportCohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Compare grant program, group B and organic cohorts",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		c, err := storedComparison(db)
		if err != nil {
			return err
		}

		if format == report.FormatTable {
			fmt.Printf("Public agents: %s, paid traffic: %s, paid non-grant: %s\n",
				report.Human.Int(int64(c.TotalPublic)), report.Human.Int(int64(c.PaidTraffic)),
				report.Human.Int(int64(c.PaidNonGrant)))
		}
		if err := emit(format, c, c.Data(report.Human)...); err != nil {
			return err
		}

		var written []string
		if cohortsCSVDir != "" {
			files, err := report.WriteCohortCSVs(cohortsCSVDir, c)
			if err != nil {
				return err
			}
			written = append(written, files...)
		}
		if cohortsXLSX != "" {
			if err := report.WriteWorkbook(cohortsXLSX, c); err != nil {
				return err
			}
			written = append(written, cohortsXLSX)
		}
		if cohortsHTML != "" {
			if err := writeHTML(cohortsHTML, "Cohort comparison "+c.GeneratedAt, c); err != nil {
				return err
			}
			written = append(written, cohortsHTML)
		}
		if len(written) > 0 {
			printWritten(written)
		}
		return nil
	},
}

func init() {
	reportCohortsCmd.Flags().StringVar(&cohortsCSVDir, "csv", "", "Write per-cohort CSVs to this directory")
	reportCohortsCmd.Flags().StringVar(&cohortsXLSX, "xlsx", "", "Write an XLSX workbook to this file")
	reportCohortsCmd.Flags().StringVar(&cohortsHTML, "html", "", "Write an HTML summary to this file")
}

// storedComparison evaluates the cohorts from the stored grant membership
// and exclusion set.
func storedComparison(db *database.DB) (*report.Comparison, error) {
	stored, err := loadStored(db)
	if err != nil {
		return nil, err
	}
	agents, err := db.GetAgents(database.AgentFilter{})
	if err != nil {
		return nil, err
	}
	builders, err := db.GetBuilders()
	if err != nil {
		return nil, err
	}
	return report.Compare(stored.Definitions(), agents, builders, cfg.Reports.TopN, time.Now()), nil
}

// loadStored reads the classification state for the configured grant list,
// warning when no run has stored a membership yet.
func loadStored(db *database.DB) (*cohort.Stored, error) {
	stored, err := cohort.LoadStored(db, cfg.Cohorts.GrantProgram.ListID)
	if err != nil {
		return nil, err
	}
	if len(stored.Members) == 0 {
		logger.Warn("no grant membership stored; using agent grant flags until 'aqa classify' runs",
			zap.String("list_id", stored.ListID))
	}
	return stored, nil
}

func writeHTML(path, title string, c *report.Comparison) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := report.RenderHTML(f, title, report.Markdown(title, c.Data(report.Human)...)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// --- report builders ---

var (
	buildersFrom int
	buildersTo   int
)

var reportBuildersCmd = &cobra.Command{
	Use:   "builders",
	Short: "Rank builders by public agent count",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
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
		builders, err := db.GetBuilders()
		if err != nil {
			return err
		}

		rows := report.BuilderRows(metrics.RankBuilders(metrics.ByBuilder(public), buildersFrom, buildersTo), builders)
		if len(rows) == 0 {
			fmt.Println("No builders in range.")
			return nil
		}
		title := fmt.Sprintf("Builders ranked %d to %d by public agents", rows[0].Rank, rows[len(rows)-1].Rank)
		return emit(format, rows, report.BuilderData(title, rows, report.Human))
	},
}

func init() {
	reportBuildersCmd.Flags().IntVar(&buildersFrom, "from", 1, "First rank to show")
	reportBuildersCmd.Flags().IntVar(&buildersTo, "to", 20, "Last rank to show (0 = all)")
}

// --- report user ---

var userStatus string

var reportUserCmd = &cobra.Command{
	Use:   "user <builder_id>",
	Short: "List the agents authored by one builder, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch userStatus {
		case "", database.StatusPublic, database.StatusPrivate:
		default:
			return fmt.Errorf("invalid status %q: must be public or private", userStatus)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := db.GetAgents(database.AgentFilter{Status: userStatus, NewestFirst: true})
		if err != nil {
			return err
		}
		mine := attribution.AuthoredBy(agents, args[0])
		if len(mine) == 0 {
			fmt.Printf("No agents found for builder %s\n", args[0])
			return nil
		}

		var execs int64
		for _, a := range mine {
			execs += a.Executions
		}
		title := fmt.Sprintf("%d agents by %s, %s executions", len(mine), args[0], report.Human.Int(execs))
		return report.Table(os.Stdout, report.AgentListData(title, mine, report.Human))
	},
}

func init() {
	reportUserCmd.Flags().StringVar(&userStatus, "status", "", "Only agents with this status (public or private)")
}

// --- report agents ---

var (
	agentsCSV string
	agentsTop int
)

var reportAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents by executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := db.GetAgents(database.AgentFilter{})
		if err != nil {
			return err
		}
		shown := metrics.TopAgents(agents, agentsTop)
		title := fmt.Sprintf("Top %d of %d agents by executions", len(shown), len(agents))
		if err := report.Table(os.Stdout, report.AgentListData(title, shown, report.Human)); err != nil {
			return err
		}

		if agentsCSV == "" {
			return nil
		}
		if err := report.WriteCSV(agentsCSV, report.AgentListData("", metrics.TopAgents(agents, 0), report.Plain)); err != nil {
			return err
		}
		printWritten([]string{agentsCSV})
		return nil
	},
}

func init() {
	reportAgentsCmd.Flags().StringVar(&agentsCSV, "csv", "", "Write every agent to this CSV file")
	reportAgentsCmd.Flags().IntVar(&agentsTop, "top", 50, "Agents to show on screen (0 = all)")
}
