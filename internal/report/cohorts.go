package report

import (
	"time"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/metrics"
)

// Compared are the cohorts shown side by side.
var Compared = []string{cohort.GrantProgram, cohort.GroupB, cohort.Organic}

// Summary is the headline rollup of one cohort.
type Summary struct {
	Name                  string   `json:"name" yaml:"name"`
	Label                 string   `json:"label" yaml:"label"`
	Agents                int      `json:"agents" yaml:"agents"`
	Builders              int      `json:"builders" yaml:"builders"`
	Executions            int64    `json:"executions" yaml:"executions"`
	Reviews               int64    `json:"reviews" yaml:"reviews"`
	AvgRating             *float64 `json:"avg_rating" yaml:"avg_rating"`
	AvgAgentsPerBuilder   float64  `json:"avg_agents_per_builder" yaml:"avg_agents_per_builder"`
	AvgExecutionsPerAgent float64  `json:"avg_executions_per_agent" yaml:"avg_executions_per_agent"`
	AvgReviewsPerAgent    float64  `json:"avg_reviews_per_agent" yaml:"avg_reviews_per_agent"`
	ShareOfPublic         float64  `json:"share_of_public" yaml:"share_of_public"`
}

// AgentRow is one ranked agent.
type AgentRow struct {
	Rank       int      `json:"rank" yaml:"rank"`
	AgentID    string   `json:"agent_id" yaml:"agent_id"`
	Name       string   `json:"name" yaml:"name"`
	Executions int64    `json:"executions" yaml:"executions"`
	Reviews    int64    `json:"reviews" yaml:"reviews"`
	Rating     *float64 `json:"rating" yaml:"rating"`
}

// BuilderRow is one ranked builder.
type BuilderRow struct {
	Rank       int      `json:"rank" yaml:"rank"`
	BuilderID  string   `json:"user_token" yaml:"user_token"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Agents     int      `json:"agents" yaml:"agents"`
	Executions int64    `json:"executions" yaml:"executions"`
	Reviews    int64    `json:"reviews" yaml:"reviews"`
	Rating     *float64 `json:"rating" yaml:"rating"`
}

// CohortReport is a cohort summary with its leaders.
type CohortReport struct {
	Summary     Summary      `json:"summary" yaml:"summary"`
	TopAgents   []AgentRow   `json:"top_agents" yaml:"top_agents"`
	TopBuilders []BuilderRow `json:"top_builders" yaml:"top_builders"`
	// Builders is every builder of the cohort, ranked.
	Builders []BuilderRow `json:"-" yaml:"-"`
}

// Comparison is the three-group cohort report.
type Comparison struct {
	GeneratedAt  string         `json:"generated_at" yaml:"generated_at"`
	TotalPublic  int            `json:"total_public" yaml:"total_public"`
	PaidTraffic  int            `json:"paid_traffic" yaml:"paid_traffic"`
	PaidNonGrant int            `json:"paid_non_grant" yaml:"paid_non_grant"`
	Cohorts      []CohortReport `json:"cohorts" yaml:"cohorts"`
}

// Compare evaluates the cohort definitions over agents. builders supplies
// display names; topN bounds the leader lists.
func Compare(defs []cohort.Definition, agents []database.Agent, builders map[string]database.Builder, topN int, now time.Time) *Comparison {
	size := func(name string) []database.Agent {
		d, ok := cohort.Lookup(defs, name)
		if !ok {
			return nil
		}
		return cohort.Select(d.Rule, agents)
	}

	public := size(cohort.AllPublic)
	c := &Comparison{
		GeneratedAt:  now.Format("2006-01-02 15:04:05"),
		TotalPublic:  len(public),
		PaidTraffic:  len(size(cohort.PaidTraffic)),
		PaidNonGrant: len(size(cohort.PaidNonGrant)),
	}
	for _, name := range Compared {
		d, ok := cohort.Lookup(defs, name)
		if !ok {
			continue
		}
		stats := metrics.Cohort(d.Name, cohort.Select(d.Rule, agents), len(public))
		c.Cohorts = append(c.Cohorts, NewCohortReport(d.Label, stats, builders, topN))
	}
	return c
}

// NewCohortReport converts cohort metrics into report rows.
func NewCohortReport(label string, s metrics.CohortStats, builders map[string]database.Builder, topN int) CohortReport {
	r := CohortReport{
		Summary: Summary{
			Name:                  s.Name,
			Label:                 label,
			Agents:                s.AgentCount,
			Builders:              s.BuilderCount,
			Executions:            s.TotalExecutions,
			Reviews:               s.TotalReviews,
			AvgRating:             rated(s.WeightedRating, s.Rated),
			AvgAgentsPerBuilder:   s.AvgAgentsPerBuilder,
			AvgExecutionsPerAgent: s.AvgExecutionsPerAgent,
			AvgReviewsPerAgent:    s.AvgReviewsPerAgent,
			ShareOfPublic:         s.ShareOfPublic,
		},
		TopAgents: AgentRows(metrics.TopAgents(s.Agents, topN)),
		Builders:  BuilderRows(metrics.RankBuilders(s.Builders, 0, 0), builders),
	}
	r.TopBuilders = r.Builders
	if topN > 0 && len(r.TopBuilders) > topN {
		r.TopBuilders = r.TopBuilders[:topN]
	}
	return r
}

// AgentRows ranks agents in the given order.
func AgentRows(agents []database.Agent) []AgentRow {
	rows := make([]AgentRow, len(agents))
	for i, a := range agents {
		r := AgentRow{
			Rank:       i + 1,
			AgentID:    a.AgentID,
			Name:       a.Name,
			Executions: a.Executions,
			Reviews:    a.ReviewsCount,
		}
		if a.ReviewsCount > 0 {
			score := a.ReviewsScore
			r.Rating = &score
		}
		rows[i] = r
	}
	return rows
}

// BuilderRows converts ranked builders, looking names up in builders.
func BuilderRows(ranked []metrics.Ranked, builders map[string]database.Builder) []BuilderRow {
	rows := make([]BuilderRow, len(ranked))
	for i, r := range ranked {
		row := BuilderRow{
			Rank:       r.Rank,
			BuilderID:  r.BuilderID,
			Agents:     r.AgentCount,
			Executions: r.TotalExecutions,
			Reviews:    r.TotalReviews,
			Rating:     rated(r.WeightedRating, r.Rated),
		}
		if b, ok := builders[r.BuilderID]; ok {
			row.Name = b.DisplayName()
		}
		rows[i] = row
	}
	return rows
}

// SummaryData is the side-by-side comparison grid.
func (c *Comparison) SummaryData(s Style) Data {
	d := Data{Title: "Cohort comparison", Headers: []string{"Metric"}}
	for _, r := range c.Cohorts {
		d.Headers = append(d.Headers, r.Summary.Label)
	}
	metric := func(name string, f func(Summary) string) {
		row := []string{name}
		for _, r := range c.Cohorts {
			row = append(row, f(r.Summary))
		}
		d.Rows = append(d.Rows, row)
	}
	metric("Agents", func(m Summary) string { return s.Int(int64(m.Agents)) })
	metric("Share of public agents", func(m Summary) string { return s.Percent(m.ShareOfPublic) })
	metric("Builders", func(m Summary) string { return s.Int(int64(m.Builders)) })
	metric("Avg agents per builder", func(m Summary) string { return s.Float(m.AvgAgentsPerBuilder, 1) })
	metric("Total executions", func(m Summary) string { return s.Int(m.Executions) })
	metric("Avg executions per agent", func(m Summary) string { return s.Float(m.AvgExecutionsPerAgent, 0) })
	metric("Total reviews", func(m Summary) string { return s.Int(m.Reviews) })
	metric("Avg reviews per agent", func(m Summary) string { return s.Float(m.AvgReviewsPerAgent, 1) })
	metric("Avg review score", func(m Summary) string { return s.Rating(m.AvgRating) })

	d.Numeric = make([]bool, len(d.Headers))
	for i := 1; i < len(d.Numeric); i++ {
		d.Numeric[i] = true
	}
	return d
}

// AgentData is a ranked agent grid.
func AgentData(title string, rows []AgentRow, s Style) Data {
	d := Data{
		Title:   title,
		Headers: []string{"Rank", "Agent ID", "Name", "Executions", "Reviews", "Avg Rating"},
		Numeric: []bool{true, false, false, true, true, true},
	}
	for _, r := range rows {
		d.Rows = append(d.Rows, []string{
			s.Int(int64(r.Rank)), r.AgentID, r.Name, s.Int(r.Executions), s.Int(r.Reviews), s.Rating(r.Rating),
		})
	}
	return d
}

// BuilderData is a ranked builder grid.
func BuilderData(title string, rows []BuilderRow, s Style) Data {
	d := Data{
		Title:   title,
		Headers: []string{"Rank", "User Token", "Name", "Agents", "Executions", "Reviews", "Avg Rating"},
		Numeric: []bool{true, false, false, true, true, true, true},
	}
	for _, r := range rows {
		d.Rows = append(d.Rows, []string{
			s.Int(int64(r.Rank)), r.BuilderID, r.Name, s.Int(int64(r.Agents)),
			s.Int(r.Executions), s.Int(r.Reviews), s.Rating(r.Rating),
		})
	}
	return d
}

// Data returns every grid of the comparison in display order.
func (c *Comparison) Data(s Style) []Data {
	out := []Data{c.SummaryData(s)}
	for _, r := range c.Cohorts {
		out = append(out,
			AgentData("Top agents: "+r.Summary.Label, r.TopAgents, s),
			BuilderData("Top builders: "+r.Summary.Label, r.TopBuilders, s),
		)
	}
	return out
}
