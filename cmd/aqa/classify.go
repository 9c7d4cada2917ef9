package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// --- exclusions command ---

var exclusionsCSVDir string

var exclusionsCmd = &cobra.Command{
	Use:   "exclusions",
	Short: "Resolve the curated paid traffic names against public agents, minus grant program agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.PaidTrafficNames()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return cohort.ErrNoTargets
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
		stored, err := loadStored(db)
		if err != nil {
			return err
		}

		res := cohort.ResolveExclusions(agents, stored.Grant(), targets, cfg.Cohorts.PaidTraffic.Threshold)
		rows := matchRows(res.Kept)

		fmt.Printf("Resolved %d names against %d public agents: %d exact, %d similar, %d not found\n",
			len(targets), len(cohort.Select(cohort.StatusFilter{Status: database.StatusPublic}, agents)),
			res.Count(cohort.MatchExact), res.Count(cohort.MatchSimilar), len(res.Unresolved))
		if err := report.Table(os.Stdout, report.ExclusionData(rows, report.Human)); err != nil {
			return err
		}
		printRemoved(res.Removed)
		if len(res.Unresolved) > 0 {
			fmt.Println("\nNot found:")
			for _, name := range res.Unresolved {
				fmt.Printf("  %s\n", name)
			}
		}

		if exclusionsCSVDir == "" {
			return nil
		}
		files, err := report.WriteExclusionCSVs(exclusionsCSVDir, rows)
		if err != nil {
			return err
		}
		printWritten(files)
		return nil
	},
}

func init() {
	exclusionsCmd.Flags().StringVar(&exclusionsCSVDir, "csv", "", "Write the found and exclusion list CSVs to this directory")
}

func matchRows(matches []cohort.NameMatch) []database.PaidTrafficMatch {
	rows := make([]database.PaidTrafficMatch, len(matches))
	for i, m := range matches {
		rows[i] = database.PaidTrafficMatch{
			AgentID:    m.AgentID,
			TargetName: m.Target,
			FoundName:  m.FoundName,
			MatchType:  string(m.Kind),
			Similarity: m.Similarity,
		}
	}
	return rows
}

// --- classify command ---

var (
	classifyCached      bool
	classifyMembersFile string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Tag grant program agents and record paid traffic exclusions",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.PaidTrafficNames()
		if err != nil {
			return err
		}

		var source cohort.MembershipSource
		if !classifyCached {
			source, err = membershipSource(classifyMembersFile)
			if err != nil {
				return err
			}
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		listID := cfg.Cohorts.GrantProgram.ListID
		fmt.Printf("Classifying against grant list %s...\n", listID)
		res, err := cohort.NewClassifier(db, source, logger).Run(cmd.Context(), cohort.Options{
			ListID:    listID,
			Targets:   targets,
			Threshold: cfg.Cohorts.PaidTraffic.Threshold,
			Cached:    classifyCached,
		})
		if err != nil {
			return fmt.Errorf("classification aborted: %w", err)
		}

		fmt.Println("\nClassification complete:")
		fmt.Printf("  Grant list members: %d\n", len(res.Members))
		fmt.Printf("  Grant program agents: %d\n", len(res.GrantAgents))
		fmt.Printf("  Paid traffic exclusions: %d\n", len(res.Exclusions))
		fmt.Printf("  Names not found: %d\n", len(res.Unresolved))

		printRemoved(res.Removed)

		sizes := report.Data{Title: "Cohorts", Headers: []string{"Cohort", "Agents"}, Numeric: []bool{false, true}}
		for _, d := range res.Definitions() {
			n := len(cohort.Select(d.Rule, res.Agents))
			sizes.Rows = append(sizes.Rows, []string{d.Label, report.Human.Int(int64(n))})
		}
		return report.Table(os.Stdout, sizes)
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyCached, "cached", false, "Use the stored grant membership instead of fetching it")
	classifyCmd.Flags().StringVar(&classifyMembersFile, "members-file", "", "Read grant membership from a CSV export")
}

// membershipSource returns the members file source when one is set,
// else the CRM list.
func membershipSource(file string) (cohort.MembershipSource, error) {
	if file == "" {
		file = cfg.Cohorts.GrantProgram.MembersFile
	}
	if file != "" {
		return cohort.FileMembership{Path: file}, nil
	}
	client, err := newCRMClient()
	if err != nil {
		return nil, err
	}
	return client, nil
}

// --- grant command ---

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Inspect grant program tagging",
}

var grantTagCmd = &cobra.Command{
	Use:   "tag <builder_id>",
	Short: "Show a builder's agents and whether each is grant-tagged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		builderID := args[0]

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		listID := cfg.Cohorts.GrantProgram.ListID
		members, err := db.GetGrantMembers(listID)
		if err != nil {
			return err
		}
		member := false
		for _, m := range members {
			if m.BuilderID == builderID {
				member = true
				break
			}
		}

		agents, err := db.GetAgents(database.AgentFilter{})
		if err != nil {
			return err
		}
		mine := attribution.AuthoredBy(agents, builderID)
		if len(mine) == 0 {
			return fmt.Errorf("no agents found for builder %s", builderID)
		}

		fmt.Printf("Builder %s: %d agents, member of cached grant list %s: %s\n",
			builderID, len(mine), listID, yesNo(member))

		d := report.Data{
			Headers: []string{"agent_id", "name", "status", "grant_tagged"},
		}
		untagged := 0
		for _, a := range mine {
			if member && !a.BuilderGrantProgram {
				untagged++
			}
			d.Rows = append(d.Rows, []string{a.AgentID, a.Name, a.Status, yesNo(a.BuilderGrantProgram)})
		}
		if err := report.Table(os.Stdout, d); err != nil {
			return err
		}
		if untagged > 0 {
			fmt.Printf("\n%d agents of this member are not tagged. Run 'aqa classify' to update tags.\n", untagged)
		}
		return nil
	},
}

func init() {
	grantCmd.AddCommand(grantTagCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printRemoved(removed []cohort.NameMatch) {
	if len(removed) == 0 {
		return
	}
	fmt.Printf("\nRemoved %d grant program agents from paid traffic:\n", len(removed))
	for _, m := range removed {
		fmt.Printf("  %s (%s)\n", m.FoundName, m.AgentID)
	}
}

func printWritten(files []string) {
	fmt.Println()
	for _, f := range files {
		fmt.Printf("Wrote %s\n", f)
	}
}
