package cohort

import (
	"fmt"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// StoredReader reads the classification state a run persisted.
type StoredReader interface {
	GetGrantMembers(listID string) ([]database.GrantMember, error)
	GetPaidTrafficExclusions() ([]database.PaidTrafficMatch, error)
}

// Stored is the persisted grant membership and corrected exclusion set.
// Grant agents are derived from Members each time the state is evaluated,
// so cohorts stay correct after an ingest clears or skips the agent flags.
type Stored struct {
	ListID     string
	Members    Set
	Exclusions Set
}

// LoadStored reads the membership of listID and the exclusion set.
func LoadStored(r StoredReader, listID string) (*Stored, error) {
	members, err := r.GetGrantMembers(listID)
	if err != nil {
		return nil, fmt.Errorf("loading grant members: %w", err)
	}
	matches, err := r.GetPaidTrafficExclusions()
	if err != nil {
		return nil, fmt.Errorf("loading paid traffic exclusions: %w", err)
	}

	s := &Stored{ListID: listID, Members: make(Set, len(members)), Exclusions: make(Set, len(matches))}
	for _, m := range members {
		s.Members.Add(m.BuilderID)
	}
	for _, m := range matches {
		s.Exclusions.Add(m.AgentID)
	}
	return s, nil
}

// Grant is the grant-program rule: membership when any members are
// stored, else the stored agent flag.
func (s *Stored) Grant() Rule {
	if len(s.Members) == 0 {
		return Tagged{}
	}
	return MembershipList{Builders: s.Members}
}

// Definitions returns the standard cohorts for the stored state.
func (s *Stored) Definitions() []Definition {
	return Definitions(s.Grant(), s.Exclusions)
}

// Resolution is a paid-traffic name resolution with grant precedence applied.
type Resolution struct {
	MatchResult
	// Kept is the corrected exclusion set.
	Kept    []NameMatch
	Removed []NameMatch
}

// ResolveExclusions matches targets against the public agents and drops
// matches on any agent the grant rule selects. Nothing is stored.
func ResolveExclusions(agents []database.Agent, grant Rule, targets []string, threshold float64) Resolution {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	public := Select(StatusFilter{Status: database.StatusPublic}, agents)
	matched := MatchNames(targets, public, threshold)

	grantIDs := make(Set)
	for _, a := range Select(grant, agents) {
		grantIDs.Add(a.AgentID)
	}
	kept, removed := Correct(matched.Matches, grantIDs)
	return Resolution{MatchResult: matched, Kept: kept, Removed: removed}
}
