package outreach

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

func ptr(s string) *string { return &s }

type fakeFinder struct {
	contacts map[string]crm.Contact
	err      error
	emails   []string
}

func (f *fakeFinder) FindByEmail(_ context.Context, email string) (*crm.Contact, error) {
	f.emails = append(f.emails, email)
	if f.err != nil {
		return nil, f.err
	}
	if ct, ok := f.contacts[email]; ok {
		return &ct, nil
	}
	return nil, nil
}

func publicAgents() []database.Agent {
	return []database.Agent{
		{AgentID: "a1", Name: "Sales Coach", Status: database.StatusPublic, Executions: 100, ReviewsCount: 3, ReviewsScore: 5,
			Authors: `{"u1": {"name": "Chris", "twitter_username": "chris"}}`, Tags: []string{"Sales", "Coaching"}},
		{AgentID: "a2", Name: "Deck Builder", Status: database.StatusPublic, Executions: 40, ReviewsCount: 1, ReviewsScore: 1,
			Authors: `{"u1": {}, "u2": {}}`, Tags: []string{"Sales"}, BuilderGrantProgram: true},
		{AgentID: "a3", Name: "Meme Maker", Status: database.StatusPublic, Executions: 900,
			Authors: `{"u3": {}}`, Tags: []string{"Fun"}},
	}
}

func TestSelect(t *testing.T) {
	agents := publicAgents()
	assert.Equal(t, []string{"x", "y"}, Select(agents, []string{"x", "y"}, 5, nil))
	assert.Equal(t, []string{"u1", "u2", "u3"}, Select(agents, nil, 0, nil))
	assert.Equal(t, []string{"u1"}, Select(agents, nil, 1, nil))
	assert.Equal(t, []string{"u1", "u2"}, Select(agents, nil, 0, cohort.GrantBuilders(agents, cohort.MembershipList{Builders: cohort.NewSet("u2")})))
}

func TestBuildFromCache(t *testing.T) {
	cached := map[string]database.Builder{
		"u1": {BuilderID: "u1", Email: ptr("chris@x.com"), Company: ptr("Acme"), LinkedInURL: ptr("https://linkedin.com/in/chris")},
		"u2": {BuilderID: "u2", FirstName: ptr("Dana"), TwitterHandle: ptr("dana")},
	}
	rows, err := Build(context.Background(), []string{"u1", "u2", "ghost"}, publicAgents(), cached, Options{TopTags: 5})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r := rows[0]
	assert.Equal(t, "Chris", r.Name)
	assert.Equal(t, "chris", r.Twitter)
	assert.Equal(t, "chris@x.com", r.Email)
	assert.Equal(t, "Acme", r.Company)
	assert.Equal(t, 2, r.PublicAgents)
	assert.Equal(t, int64(140), r.TotalExecutions)
	assert.Equal(t, int64(4), r.TotalReviews)
	require.NotNil(t, r.AvgReviewScore)
	assert.Equal(t, 4.0, *r.AvgReviewScore)
	assert.Equal(t, []string{"Sales", "Coaching"}, r.TopTags)

	assert.Equal(t, "Dana", rows[1].Name)
	assert.Equal(t, "dana", rows[1].Twitter)
	assert.Equal(t, "", rows[1].Email)
}

func TestBuildRefreshesFromCRM(t *testing.T) {
	cached := map[string]database.Builder{
		"u1": {BuilderID: "u1", Email: ptr("chris@x.com"), Company: ptr("Old Co")},
	}
	finder := &fakeFinder{contacts: map[string]crm.Contact{
		"chris@x.com": {Email: "chris@x.com", Company: "New Co", JobTitle: "CTO", LastActivityDate: "2025-06-01"},
	}}
	rows, err := Build(context.Background(), []string{"u1", "u3"}, publicAgents(), cached,
		Options{Finder: finder, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"chris@x.com"}, finder.emails)
	assert.Equal(t, "New Co", rows[0].Company)
	assert.Equal(t, "CTO", rows[0].JobTitle)
	assert.Equal(t, "Unknown", rows[1].Name)
	assert.Nil(t, rows[1].AvgReviewScore)
}

func TestBuildKeepsCacheOnCRMFailure(t *testing.T) {
	cached := map[string]database.Builder{"u1": {BuilderID: "u1", Email: ptr("chris@x.com"), Company: ptr("Acme")}}
	finder := &fakeFinder{err: errors.New("HTTP 503")}
	rows, err := Build(context.Background(), []string{"u1"}, publicAgents(), cached,
		Options{Finder: finder, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, "Acme", rows[0].Company)
}

func TestData(t *testing.T) {
	rows, err := Build(context.Background(), []string{"u1"}, publicAgents(), nil, Options{TopTags: 5})
	require.NoError(t, err)
	d := Data(rows, report.Plain)
	assert.Equal(t, Columns, d.Headers)
	require.Len(t, d.Rows, 1)
	assert.Equal(t, []string{
		"u1", "Chris", "chris", "", "", "", "", "", "2", "140", "4", "4.00", "Sales, Coaching",
		"Sales Coach (100 execs, 3 reviews); Deck Builder (40 execs, 1 reviews)",
	}, d.Rows[0])
}

func TestCoverage(t *testing.T) {
	rows := []Row{
		{UserToken: "a", Email: "a@x.com"},
		{UserToken: "b", TotalExecutions: 5},
		{UserToken: "c", TotalExecutions: 50},
	}
	with, without := Coverage(rows)
	assert.Len(t, with, 1)
	require.Len(t, without, 2)
	assert.Equal(t, "c", without[0].UserToken)

	d := MissingData(without, report.Human)
	assert.Equal(t, "50", d.Rows[0][4])
}
