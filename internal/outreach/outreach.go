// Package outreach builds contact sheets for selected builders from their
// public agents, cached profiles and optional live CRM lookups.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/metrics"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// ContactFinder resolves a CRM contact by email.
type ContactFinder interface {
	FindByEmail(ctx context.Context, email string) (*crm.Contact, error)
}

// Row is one builder on the outreach sheet.
type Row struct {
	UserToken        string
	Name             string
	Twitter          string
	Email            string
	LinkedInURL      string
	LastActivityDate string
	Company          string
	JobTitle         string
	PublicAgents     int
	TotalExecutions  int64
	TotalReviews     int64
	// AvgReviewScore is nil when none of the agents has a review.
	AvgReviewScore *float64
	TopTags        []string
	Agents         []database.Agent
}

// Options tune Build.
type Options struct {
	TopTags int
	// Finder, when set, refreshes contact fields for builders with an email.
	Finder ContactFinder
	Logger *zap.Logger
}

// Select picks builder identifiers from public agents: the explicit ids if
// any, else the top n by public agent count. A non-nil within restricts
// the candidates.
func Select(public []database.Agent, ids []string, n int, within cohort.Set) []string {
	if len(ids) > 0 {
		return ids
	}
	var pool []metrics.BuilderStats
	for _, b := range metrics.ByBuilder(public) {
		if within != nil && !within.Has(b.BuilderID) {
			continue
		}
		pool = append(pool, b)
	}
	top := metrics.TopBuilders(pool, n)
	out := make([]string, len(top))
	for i, b := range top {
		out[i] = b.BuilderID
	}
	return out
}

// Build assembles a row per requested builder. Builders without public
// agents are skipped. CRM failures are logged and leave cached values in
// place.
func Build(ctx context.Context, ids []string, public []database.Agent, cached map[string]database.Builder, opts Options) ([]Row, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	profiles := make(map[string]attribution.Profile)
	for _, p := range attribution.Profiles(public) {
		profiles[p.BuilderID] = p
	}

	var rows []Row
	for _, id := range ids {
		agents := attribution.AuthoredBy(public, id)
		if len(agents) == 0 {
			logger.Info("builder has no public agents", zap.String("builder_id", id))
			continue
		}

		row := Row{UserToken: id, Name: "Unknown", PublicAgents: len(agents), Agents: agents}
		for i := range agents {
			row.TotalExecutions += agents[i].Executions
			row.TotalReviews += agents[i].ReviewsCount
		}
		if v, ok := metrics.WeightedRating(agents); ok {
			row.AvgReviewScore = &v
		}
		for _, t := range metrics.TopTags(agents, opts.TopTags) {
			row.TopTags = append(row.TopTags, t.Tag)
		}

		p := profiles[id]
		b, hasCache := cached[id]
		switch {
		case p.Name != "":
			row.Name = p.Name
		case hasCache && b.DisplayName() != "":
			row.Name = b.DisplayName()
		}
		row.Twitter = p.TwitterHandle
		if hasCache {
			if row.Twitter == "" {
				row.Twitter = deref(b.TwitterHandle)
			}
			row.Email = deref(b.Email)
			row.LinkedInURL = deref(b.LinkedInURL)
			row.LastActivityDate = deref(b.LastActivityDate)
			row.Company = deref(b.Company)
			row.JobTitle = deref(b.JobTitle)
		}

		if opts.Finder != nil && row.Email != "" {
			ct, err := opts.Finder.FindByEmail(ctx, row.Email)
			switch {
			case err != nil && ctx.Err() != nil:
				return rows, ctx.Err()
			case err != nil:
				logger.Warn("contact lookup failed",
					zap.String("builder_id", id), zap.Bool("unauthorized", errors.Is(err, crm.ErrUnauthorized)), zap.Error(err))
			case ct != nil:
				row.LinkedInURL = first(ct.LinkedInURL, row.LinkedInURL)
				row.LastActivityDate = first(ct.LastActivityDate, row.LastActivityDate)
				row.Company = first(ct.Company, row.Company)
				row.JobTitle = first(ct.JobTitle, row.JobTitle)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Columns of the outreach sheet.
var Columns = []string{
	"user_token", "name", "twitter", "email", "linkedin_url", "last_activity_date", "company",
	"job_title", "total_public_agents", "total_executions", "total_reviews", "avg_review_score",
	"top_tags", "agent_list",
}

// Data lays rows out as the outreach sheet.
func Data(rows []Row, s report.Style) report.Data {
	d := report.Data{Title: "Outreach", Headers: Columns}
	for _, r := range rows {
		d.Rows = append(d.Rows, []string{
			r.UserToken, r.Name, r.Twitter, r.Email, r.LinkedInURL, r.LastActivityDate, r.Company,
			r.JobTitle, s.Int(int64(r.PublicAgents)), s.Int(r.TotalExecutions), s.Int(r.TotalReviews),
			s.Rating(r.AvgReviewScore), strings.Join(r.TopTags, ", "), AgentList(r.Agents),
		})
	}
	return d
}

// AgentList summarizes agents as "name (N execs, M reviews)" joined by "; ".
func AgentList(agents []database.Agent) string {
	parts := make([]string, len(agents))
	for i, a := range agents {
		parts[i] = fmt.Sprintf("%s (%d execs, %d reviews)", a.Name, a.Executions, a.ReviewsCount)
	}
	return strings.Join(parts, "; ")
}

// Coverage splits rows by whether an email is known. Rows missing an email
// come back by total executions, highest first.
func Coverage(rows []Row) (with, without []Row) {
	for _, r := range rows {
		if r.Email != "" {
			with = append(with, r)
		} else {
			without = append(without, r)
		}
	}
	sort.SliceStable(without, func(i, j int) bool {
		return without[i].TotalExecutions > without[j].TotalExecutions
	})
	return with, without
}

// MissingData lists builders without an email, for discovery.
func MissingData(without []Row, s report.Style) report.Data {
	d := report.Data{
		Title:   "Builders missing an email",
		Headers: []string{"User Token", "Name", "Twitter", "Agents", "Executions", "Reviews", "Top Tags"},
		Numeric: []bool{false, false, false, true, true, true, false},
	}
	for _, r := range without {
		d.Rows = append(d.Rows, []string{
			r.UserToken, r.Name, r.Twitter, s.Int(int64(r.PublicAgents)),
			s.Int(r.TotalExecutions), s.Int(r.TotalReviews), strings.Join(r.TopTags, ", "),
		})
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
