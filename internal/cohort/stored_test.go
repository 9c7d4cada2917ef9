package cohort

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

func storedCohort(t *testing.T, s *Stored, agents []database.Agent, name string) []string {
	t.Helper()
	d, ok := Lookup(s.Definitions(), name)
	require.True(t, ok)
	return ids(Select(d.Rule, agents))
}

func TestStoredCohortsSurviveReingest(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}
	_, err := NewClassifier(db, src, zaptest.NewLogger(t)).Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	// A full re-ingest of the same data clears every grant flag.
	seed(t, db)
	flagged, err := db.GetGrantProgramAgentIDs()
	require.NoError(t, err)
	require.Empty(t, flagged)

	stored, err := LoadStored(db, "301")
	require.NoError(t, err)
	assert.Equal(t, NewSet("grant1"), stored.Members)
	assert.Equal(t, NewSet("p1", "p2"), stored.Exclusions)

	agents, err := db.GetAgents(database.AgentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, storedCohort(t, stored, agents, GrantProgram))
	assert.Equal(t, []string{"p1", "p2"}, storedCohort(t, stored, agents, PaidTraffic))
	assert.Equal(t, []string{"o1", "o2"}, storedCohort(t, stored, agents, Organic))
	assert.Equal(t, []string{"p1", "p2", "o1", "o2"}, storedCohort(t, stored, agents, GroupB))

	// A merge adds an unflagged agent by a grant member.
	_, err = db.UpsertAgents([]database.Agent{
		{AgentID: "g3", Name: "Grant Newcomer", Status: database.StatusPublic, Authors: `{"grant1": {}}`},
	})
	require.NoError(t, err)
	agents, err = db.GetAgents(database.AgentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g3"}, storedCohort(t, stored, agents, GrantProgram))
	assert.Equal(t, []string{"o1", "o2"}, storedCohort(t, stored, agents, Organic))
}

func TestStoredFallsBackToFlags(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	_, err := db.SetGrantProgramAgents([]string{"o1"})
	require.NoError(t, err)

	stored, err := LoadStored(db, "301")
	require.NoError(t, err)
	assert.Equal(t, Tagged{}, stored.Grant())

	agents, err := db.GetAgents(database.AgentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, storedCohort(t, stored, agents, GrantProgram))
}

func TestResolveExclusionsDropsGrantAgents(t *testing.T) {
	agents := []database.Agent{
		{AgentID: "g1", Name: "Company Research", Status: database.StatusPublic, Authors: `{"grant1": {}}`},
		{AgentID: "p1", Name: "Meme Maker", Status: database.StatusPublic, Authors: `{"solo": {}}`},
		{AgentID: "x1", Name: "SWOT Analysis", Status: database.StatusPrivate, Authors: `{"solo": {}}`},
	}
	names := []string{"Company Research", "meme maker", "SWOT Analysis"}

	res := ResolveExclusions(agents, MembershipList{Builders: NewSet("grant1")}, names, 0)
	assert.Equal(t, 2, res.Count(MatchExact))
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "p1", res.Kept[0].AgentID)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "g1", res.Removed[0].AgentID)
	// Private agents are never candidates.
	assert.Equal(t, []string{"SWOT Analysis"}, res.Unresolved)

	// Without grant members nothing is dropped.
	res = ResolveExclusions(agents, MembershipList{Builders: NewSet()}, names, 0)
	assert.Len(t, res.Kept, 2)
	assert.Empty(t, res.Removed)
}

func TestResolveExclusionsMatchesClassifier(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}
	run, err := NewClassifier(db, src, zaptest.NewLogger(t)).Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	// Re-ingest, then resolve from stored membership.
	seed(t, db)
	stored, err := LoadStored(db, "301")
	require.NoError(t, err)
	agents, err := db.GetAgents(database.AgentFilter{})
	require.NoError(t, err)

	res := ResolveExclusions(agents, stored.Grant(), targets, 0)
	assert.Equal(t, run.Exclusions, res.Kept)
	assert.Equal(t, run.Removed, res.Removed)
	assert.Equal(t, run.Unresolved, res.Unresolved)
}
