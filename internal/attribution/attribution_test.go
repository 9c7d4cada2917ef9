package attribution

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

func TestParseAuthors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Authors
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "null", raw: "null", want: nil},
		{name: "empty object", raw: "{}", want: nil},
		{
			name: "keeps source order",
			raw:  `{"zed": {"name": "Zed"}, "amy": {"name": "Amy", "twitter_username": "amy", "avatar": "a.png"}}`,
			want: Authors{
				{BuilderID: "zed", Info: Info{Name: "Zed"}},
				{BuilderID: "amy", Info: Info{Name: "Amy", TwitterHandle: "amy", Avatar: "a.png"}},
			},
		},
		{
			name: "twitter_handle alias",
			raw:  `{"u1": {"name": "Ann", "twitter_handle": "ann_t"}}`,
			want: Authors{{BuilderID: "u1", Info: Info{Name: "Ann", TwitterHandle: "ann_t"}}},
		},
		{
			name: "non-object value keeps key",
			raw:  `{"u1": null, "u2": "oops"}`,
			want: Authors{{BuilderID: "u1"}, {BuilderID: "u2"}},
		},
		{name: "array", raw: `["u1"]`, wantErr: true},
		{name: "truncated", raw: `{"u1": {"name": `, wantErr: true},
		{name: "not json", raw: `u1,u2`, wantErr: true},
		{name: "trailing garbage", raw: `{"u1": {}} x`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthors(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAuthors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveSkipsMalformed(t *testing.T) {
	bad := database.Agent{AgentID: "x", Authors: `{"u1": `}
	assert.Nil(t, Resolve(&bad))

	good := database.Agent{AgentID: "y", Authors: `{"u2": {}, "u1": {}}`}
	assert.Equal(t, []string{"u2", "u1"}, Resolve(&good))
}

func TestEdgesCreditEveryCoAuthor(t *testing.T) {
	agents := []database.Agent{
		{AgentID: "a1", Executions: 10, Authors: `{"u1": {}, "u2": {}}`},
		{AgentID: "a2", Executions: 5, Authors: `broken`},
		{AgentID: "a3", Executions: 1, Authors: `{"u2": {}}`},
	}
	edges := Edges(agents)
	require.Len(t, edges, 3)

	got := make([]string, len(edges))
	for i, e := range edges {
		got[i] = e.BuilderID + ":" + e.Agent.AgentID
	}
	assert.Equal(t, []string{"u1:a1", "u2:a1", "u2:a3"}, got)
	assert.Equal(t, int64(10), edges[0].Agent.Executions)
	assert.Same(t, edges[0].Agent, edges[1].Agent)
}

func TestAuthoredBy(t *testing.T) {
	agents := []database.Agent{
		{AgentID: "a1", Authors: `{"u1": {}, "u2": {}}`},
		{AgentID: "a2", Authors: `{"u2": {}}`},
		{AgentID: "a3", Authors: `{"u3": {}}`},
	}
	got := AuthoredBy(agents, "u2")
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].AgentID)
	assert.Equal(t, "a2", got[1].AgentID)
	assert.Empty(t, AuthoredBy(agents, "nobody"))
}

func TestProfilesFirstSupplierWins(t *testing.T) {
	agents := []database.Agent{
		{AgentID: "a1", Authors: `{"u1": {"name": "Ada"}}`},
		{AgentID: "a2", Authors: `{"u2": {"name": "Bob"}, "u1": {"name": "Ada L.", "twitter_username": "ada"}}`},
		{AgentID: "a3", Authors: `{"u1": {"twitter_username": "later"}}`},
	}
	want := []Profile{
		{BuilderID: "u1", Info: Info{Name: "Ada", TwitterHandle: "ada"}},
		{BuilderID: "u2", Info: Info{Name: "Bob"}},
	}
	if diff := cmp.Diff(want, Profiles(agents)); diff != "" {
		t.Errorf("Profiles mismatch (-want +got):\n%s", diff)
	}
}
