package crm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

type fakeSearcher struct {
	contacts map[string]Contact
	fail     map[string]error
	batches  [][]string
}

func (f *fakeSearcher) SearchByTokens(_ context.Context, tokens []string) ([]Contact, error) {
	f.batches = append(f.batches, append([]string(nil), tokens...))
	for _, tok := range tokens {
		if err, ok := f.fail[tok]; ok {
			return nil, err
		}
	}
	var out []Contact
	for _, tok := range tokens {
		if ct, ok := f.contacts[tok]; ok {
			out = append(out, ct)
		}
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

func enrichAgents() []database.Agent {
	return []database.Agent{
		{AgentID: "a1", Authors: `{"u1": {"name": "Ada", "twitter_username": "ada"}, "u2": {}}`},
		{AgentID: "a2", Authors: `{"u2": {"name": "Bob"}, "u3": {}}`},
		{AgentID: "a3", Authors: `{"u4": {}, "u5": {}, "u6": {}, "u7": {}}`},
		{AgentID: "a4", Authors: `broken`},
	}
}

func TestEnrichBatchesAndCaches(t *testing.T) {
	db := openTestDB(t)
	src := &fakeSearcher{contacts: map[string]Contact{
		"u1": {PlatformUserToken: "u1", Email: "ada@x.com", Company: "Acme"},
		"u6": {PlatformUserToken: "u6", Email: "six@x.com"},
		// Contacts for tokens that were not asked for are ignored.
		"zz": {PlatformUserToken: "zz", Email: "zz@x.com"},
	}}

	res, err := NewEnricher(db, src, 5, zaptest.NewLogger(t)).Enrich(context.Background(), enrichAgents(), false)
	require.NoError(t, err)
	assert.Equal(t, &EnrichResult{Builders: 7, Requested: 7, Found: 2, Batches: 2}, res)
	assert.Equal(t, [][]string{{"u1", "u2", "u3", "u4", "u5"}, {"u6", "u7"}}, src.batches)

	ada, err := db.GetBuilder("u1")
	require.NoError(t, err)
	require.NotNil(t, ada)
	assert.Equal(t, "Ada", *ada.Name)
	assert.Equal(t, "ada", *ada.TwitterHandle)
	assert.Equal(t, "ada@x.com", *ada.Email)
	assert.Equal(t, "Acme", *ada.Company)

	bob, err := db.GetBuilder("u2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", *bob.Name)
	assert.Nil(t, bob.Email)

	all, err := db.GetBuilders()
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestEnrichSkipsEnrichedUnlessForced(t *testing.T) {
	db := openTestDB(t)
	src := &fakeSearcher{contacts: map[string]Contact{
		"u1": {PlatformUserToken: "u1", Email: "ada@x.com"},
	}}
	e := NewEnricher(db, src, 5, zaptest.NewLogger(t))
	agents := enrichAgents()[:1]

	_, err := e.Enrich(context.Background(), agents, false)
	require.NoError(t, err)

	src.batches = nil
	res, err := e.Enrich(context.Background(), agents, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, [][]string{{"u2"}}, src.batches)

	src.batches = nil
	res, err = e.Enrich(context.Background(), agents, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, [][]string{{"u1", "u2"}}, src.batches)
}

func TestEnrichSkipsFailedBatches(t *testing.T) {
	db := openTestDB(t)
	src := &fakeSearcher{
		contacts: map[string]Contact{"u6": {PlatformUserToken: "u6", Email: "six@x.com"}},
		fail:     map[string]error{"u3": ErrUnauthorized},
	}
	res, err := NewEnricher(db, src, 5, zaptest.NewLogger(t)).Enrich(context.Background(), enrichAgents(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 1, res.Found)

	enriched, err := db.GetEnrichedBuilderIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u6": true}, enriched)
}

func TestEnrichStopsOnCancel(t *testing.T) {
	db := openTestDB(t)
	src := &fakeSearcher{fail: map[string]error{"u1": errors.New("boom")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEnricher(db, src, 2, zaptest.NewLogger(t)).Enrich(ctx, enrichAgents(), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, src.batches, 1)
}

func TestEnrichNoAgents(t *testing.T) {
	db := openTestDB(t)
	src := &fakeSearcher{}
	res, err := NewEnricher(db, src, 0, zaptest.NewLogger(t)).Enrich(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, &EnrichResult{}, res)
	assert.Empty(t, src.batches)
}
