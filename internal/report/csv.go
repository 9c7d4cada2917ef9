package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// WriteCSV writes d's headers and rows to path, creating parent
// directories.
func WriteCSV(path string, d Data) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(d.Headers); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.WriteAll(d.Rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteCohortCSVs writes the comparison summary and, per cohort, the full
// builder list, the builder tokens and the top agents into dir. It returns
// the files written.
func WriteCohortCSVs(dir string, c *Comparison) ([]string, error) {
	files := map[string]Data{}
	order := []string{"cohort_comparison.csv"}
	files["cohort_comparison.csv"] = c.SummaryData(Plain)

	for _, r := range c.Cohorts {
		name := r.Summary.Name
		builders := fmt.Sprintf("%s_builders_summary.csv", name)
		tokens := fmt.Sprintf("%s_builders_user_tokens.csv", name)
		agents := fmt.Sprintf("%s_top_agents.csv", name)
		order = append(order, builders, tokens, agents)

		files[builders] = BuilderCSV(r.Builders)
		ids := Data{Headers: []string{"user_token"}}
		for _, b := range r.Builders {
			ids.Rows = append(ids.Rows, []string{b.BuilderID})
		}
		files[tokens] = ids
		files[agents] = AgentCSV(r.TopAgents)
	}

	var written []string
	for _, name := range order {
		path := filepath.Join(dir, name)
		if err := WriteCSV(path, files[name]); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// BuilderCSV is the builder summary file layout.
func BuilderCSV(rows []BuilderRow) Data {
	d := Data{Headers: []string{"user_token", "name", "public_agent_count", "total_executions", "total_reviews", "average_rating"}}
	for _, r := range rows {
		d.Rows = append(d.Rows, []string{
			r.BuilderID, r.Name, Plain.Int(int64(r.Agents)),
			Plain.Int(r.Executions), Plain.Int(r.Reviews), Plain.Rating(r.Rating),
		})
	}
	return d
}

// AgentCSV is the agent list file layout.
func AgentCSV(rows []AgentRow) Data {
	d := Data{Headers: []string{"rank", "agent_id", "name", "executions", "reviews_count", "average_rating"}}
	for _, r := range rows {
		d.Rows = append(d.Rows, []string{
			Plain.Int(int64(r.Rank)), r.AgentID, r.Name,
			Plain.Int(r.Executions), Plain.Int(r.Reviews), Plain.Rating(r.Rating),
		})
	}
	return d
}

// Exclusion file names.
const (
	ExclusionsFoundFile = "paid_traffic_agents_found.csv"
	ExclusionListFile   = "paid_traffic_exclusion_list.csv"
)

// WriteExclusionCSVs writes the matched paid-traffic agents with their
// match details and the bare agent id list into dir.
func WriteExclusionCSVs(dir string, matches []database.PaidTrafficMatch) ([]string, error) {
	found := ExclusionData(matches, Plain)
	ids := Data{Headers: []string{"agent_id"}}
	for _, m := range matches {
		ids.Rows = append(ids.Rows, []string{m.AgentID})
	}

	var written []string
	for _, f := range []struct {
		name string
		data Data
	}{{ExclusionsFoundFile, found}, {ExclusionListFile, ids}} {
		path := filepath.Join(dir, f.name)
		if err := WriteCSV(path, f.data); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// ExclusionData lists paid-traffic matches.
func ExclusionData(matches []database.PaidTrafficMatch, s Style) Data {
	d := Data{
		Title:   "Paid traffic agents",
		Headers: []string{"target_name", "agent_id", "found_name", "match_type", "similarity"},
		Numeric: []bool{false, false, false, false, true},
	}
	for _, m := range matches {
		d.Rows = append(d.Rows, []string{m.TargetName, m.AgentID, m.FoundName, m.MatchType, s.Float(m.Similarity, 3)})
	}
	return d
}
