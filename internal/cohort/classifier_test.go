package cohort

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

type fakeSource struct {
	members []database.GrantMember
	err     error
	calls   int
}

func (f *fakeSource) ListMembers(_ context.Context, listID string) ([]database.GrantMember, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]database.GrantMember, len(f.members))
	for i, m := range f.members {
		m.ListID = listID
		out[i] = m
	}
	return out, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	_, err := db.ReplaceAgents([]database.Agent{
		{AgentID: "g1", Name: "Company Research", Status: database.StatusPublic, Authors: `{"grant1": {}}`},
		{AgentID: "g2", Name: "Grant Helper", Status: database.StatusPublic, Authors: `{"grant1": {}, "solo": {}}`},
		{AgentID: "p1", Name: "Meme Maker", Status: database.StatusPublic, Authors: `{"solo": {}}`},
		{AgentID: "p2", Name: "SWOT Analysis Tool", Status: database.StatusPublic, Authors: `{"solo": {}}`},
		{AgentID: "o1", Name: "Organic One", Status: database.StatusPublic, Authors: `{"solo": {}}`},
		{AgentID: "o2", Name: "Organic Two", Status: database.StatusPublic, Authors: `{oops`},
		{AgentID: "x1", Name: "Meme Maker", Status: database.StatusPrivate, Authors: `{"grant1": {}}`},
	})
	require.NoError(t, err)
}

var targets = []string{"Company Research", "meme maker", "SWOT Analysis", "Nonexistent Agent"}

func TestClassifierRun(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}

	c := NewClassifier(db, src, zaptest.NewLogger(t))
	res, err := c.Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	// Private agents are tagged too; only public ones reach the cohorts.
	assert.True(t, res.GrantAgents.Has("x1"))
	flagged, err := db.GetGrantProgramAgentIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g1", "g2", "x1"}, flagged)

	// Company Research matched g1 exactly, then was dropped for grant precedence.
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "g1", res.Removed[0].AgentID)
	assert.Equal(t, []string{"Nonexistent Agent"}, res.Unresolved)

	stored, err := db.GetPaidTrafficExclusions()
	require.NoError(t, err)
	storedIDs := make([]string, len(stored))
	for i, m := range stored {
		storedIDs[i] = m.AgentID
	}
	// The private Meme Maker is never a candidate.
	assert.Equal(t, []string{"p1", "p2"}, storedIDs)
	assert.Equal(t, "similar", stored[1].MatchType)

	assert.Equal(t, []string{"g1", "g2"}, ids(res.Cohort(GrantProgram)))
	assert.Equal(t, []string{"p1", "p2"}, ids(res.Cohort(PaidTraffic)))
	assert.Equal(t, []string{"o1", "o2"}, ids(res.Cohort(Organic)))
	assert.Equal(t, []string{"p1", "p2", "o1", "o2"}, ids(res.Cohort(GroupB)))
	assert.Nil(t, res.Cohort("unknown"))

	run, err := db.GetLastClassificationRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, 3, run.GrantAgents)
	assert.Equal(t, 1, run.RemovedOverlap)
}

func TestClassifierPartitionsPublic(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}

	res, err := NewClassifier(db, src, zaptest.NewLogger(t)).Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	grant := NewSet(ids(res.Cohort(GrantProgram))...)
	paid := NewSet(ids(res.Cohort(PaidTraffic))...)
	organic := res.Cohort(Organic)
	for _, a := range organic {
		assert.False(t, grant.Has(a.AgentID))
		assert.False(t, paid.Has(a.AgentID))
	}
	for id := range paid {
		assert.False(t, grant.Has(id), "agent %s in both grant and paid traffic", id)
	}
	assert.Equal(t, len(res.Cohort(AllPublic)), len(grant)+len(paid)+len(organic))
}

func TestClassifierIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}
	c := NewClassifier(db, src, zaptest.NewLogger(t))
	opts := Options{ListID: "301", Targets: targets}

	first, err := c.Run(context.Background(), opts)
	require.NoError(t, err)
	flaggedFirst, _ := db.GetGrantProgramAgentIDs()
	exclFirst, _ := db.GetPaidTrafficExclusions()

	second, err := c.Run(context.Background(), opts)
	require.NoError(t, err)
	flaggedSecond, _ := db.GetGrantProgramAgentIDs()
	exclSecond, _ := db.GetPaidTrafficExclusions()

	assert.Equal(t, flaggedFirst, flaggedSecond)
	assert.Equal(t, exclFirst, exclSecond)
	assert.Equal(t, first.GrantAgents, second.GrantAgents)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestClassifierShrinkingMembershipClearsTags(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	src := &fakeSource{members: []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}}
	c := NewClassifier(db, src, zaptest.NewLogger(t))
	_, err := c.Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	src.members = []database.GrantMember{{Email: "s@x.com", BuilderID: "nobody-with-agents"}}
	_, err = c.Run(context.Background(), Options{ListID: "301", Targets: targets})
	require.NoError(t, err)

	flagged, _ := db.GetGrantProgramAgentIDs()
	assert.Empty(t, flagged)
	// With no grant agents, Company Research stays excluded.
	stored, _ := db.GetPaidTrafficExclusions()
	assert.Equal(t, "g1", stored[0].AgentID)
}

func TestClassifierFailsLoudly(t *testing.T) {
	tests := []struct {
		name    string
		source  MembershipSource
		opts    Options
		wantErr error
	}{
		{"source error", &fakeSource{err: errors.New("503")}, Options{ListID: "301", Targets: targets}, ErrMembershipUnavailable},
		{"empty list", &fakeSource{}, Options{ListID: "301", Targets: targets}, ErrEmptyMembership},
		{"no source", nil, Options{ListID: "301", Targets: targets}, ErrMembershipUnavailable},
		{"no targets", &fakeSource{members: []database.GrantMember{{BuilderID: "grant1"}}}, Options{ListID: "301"}, ErrNoTargets},
		{"empty cache", nil, Options{ListID: "301", Targets: targets, Cached: true}, ErrEmptyMembership},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			seed(t, db)
			// Pre-existing state that must survive an aborted run.
			_, err := db.SetGrantProgramAgents([]string{"o1"})
			require.NoError(t, err)

			_, err = NewClassifier(db, tt.source, zaptest.NewLogger(t)).Run(context.Background(), tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)

			flagged, _ := db.GetGrantProgramAgentIDs()
			assert.Equal(t, []string{"o1"}, flagged)
		})
	}
}

func TestClassifierCachedUsesStoredMembers(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	require.NoError(t, db.ReplaceGrantMembers("301", []database.GrantMember{{Email: "g@x.com", BuilderID: "grant1"}}))

	src := &fakeSource{err: errors.New("should not be called")}
	res, err := NewClassifier(db, src, zaptest.NewLogger(t)).Run(context.Background(), Options{ListID: "301", Targets: targets, Cached: true})
	require.NoError(t, err)
	assert.Equal(t, 0, src.calls)
	assert.True(t, res.GrantAgents.Has("g2"))

	run, _ := db.GetLastClassificationRun()
	assert.Equal(t, "cache", run.Source)
}

func TestFileMembership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "members.csv")
	content := "\ufeffEmail,Platform_User_Token,First Name\nA@X.com,tok1,Ann\nb@x.com,,Bob\nc@x.com,tok1,Dup\nd@x.com,tok2,Dee\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	members, err := FileMembership{Path: path}.ListMembers(context.Background(), "301")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, database.GrantMember{ListID: "301", Email: "a@x.com", BuilderID: "tok1"}, members[0])
	assert.Equal(t, "tok2", members[1].BuilderID)
}

func TestFileMembershipMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "members.csv")
	require.NoError(t, os.WriteFile(path, []byte("email\na@x.com\n"), 0o644))

	_, err := FileMembership{Path: path}.ListMembers(context.Background(), "301")
	assert.Error(t, err)
}

func TestGrantBuilders(t *testing.T) {
	got := GrantBuilders(ruleAgents(), Tagged{})
	assert.True(t, got.Has("grant"))
	assert.True(t, got.Has("other"))
	assert.Len(t, got, 2)

	// Co-authors of member agents are included.
	got = GrantBuilders(ruleAgents(), MembershipList{Builders: NewSet("other")})
	assert.Equal(t, NewSet("grant", "other"), got)
}
