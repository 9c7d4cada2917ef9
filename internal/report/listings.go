package report

import (
	"sort"
	"strings"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// AgentListData lists agents with their status, usage, price and
// creation date in the given order.
func AgentListData(title string, agents []database.Agent, s Style) Data {
	d := Data{
		Title: title,
		Headers: []string{"agent_id", "name", "status", "executions", "reviews_count",
			"average_rating", "price", "authors", "created_at"},
		Numeric: []bool{false, false, false, true, true, true, true, false, false},
	}
	for i := range agents {
		a := &agents[i]
		var score *float64
		if a.ReviewsCount > 0 {
			score = &a.ReviewsScore
		}
		price := ""
		if a.Price != nil {
			price = s.Float(*a.Price, 2)
		}
		created := ""
		if a.CreatedAt != nil {
			created = *a.CreatedAt
		}
		d.Rows = append(d.Rows, []string{
			a.AgentID, a.Name, a.Status, s.Int(a.Executions), s.Int(a.ReviewsCount),
			s.Rating(score), price, strings.Join(attribution.Resolve(a), ";"), created,
		})
	}
	return d
}

// StatsData is the store overview shown by status.
func StatsData(st *database.Stats, last *database.ClassificationRun, s Style) Data {
	d := Data{Title: "Store", Headers: []string{"Item", "Count"}, Numeric: []bool{false, true}}
	add := func(name string, n int) {
		d.Rows = append(d.Rows, []string{name, s.Int(int64(n))})
	}
	add("Agents", st.TotalAgents)
	add("Public agents", st.PublicAgents)
	add("Private agents", st.PrivateAgents)
	add("Paid agents", st.PaidAgents)
	add("Grant-tagged agents", st.GrantAgents)
	add("Paid traffic exclusions", st.Exclusions)
	add("Cached builders", st.CachedBuilders)
	add("Builders with email", st.BuildersWithMail)
	add("Grant list members", st.GrantMembers)
	if last != nil {
		when := ""
		if last.CreatedAt != nil {
			when = *last.CreatedAt
		}
		d.Rows = append(d.Rows, []string{"Last classification", when + " (" + last.Source + ")"})
	}
	return d
}

// BuilderCacheData lists cached builder profiles ordered by identifier.
func BuilderCacheData(builders map[string]database.Builder, s Style) Data {
	d := Data{
		Title: "Builders",
		Headers: []string{"user_token", "name", "email", "linkedin_url", "company", "job_title",
			"last_activity_date", "credits_balance"},
		Numeric: []bool{false, false, false, false, false, false, false, true},
	}
	ids := make([]string, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := builders[id]
		credits := ""
		if b.CreditsBalance != nil {
			credits = s.Float(*b.CreditsBalance, 2)
		}
		d.Rows = append(d.Rows, []string{
			id, b.DisplayName(), str(b.Email), str(b.LinkedInURL), str(b.Company), str(b.JobTitle),
			str(b.LastActivityDate), credits,
		})
	}
	return d
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
