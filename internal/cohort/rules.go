package cohort

import (
	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// Set is a set of identifiers (agent or builder).
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Rule selects agents. The concrete types below are the only rules.
type Rule interface {
	isRule()
}

// StatusFilter keeps agents with the given status.
type StatusFilter struct{ Status string }

// PriceFilter keeps paid agents (price > 0) or free ones.
type PriceFilter struct{ Paid bool }

// MembershipList keeps agents with at least one author in Builders. The
// whole agent qualifies once any author does.
type MembershipList struct{ Builders Set }

// NameMatchExclusion keeps agents whose ID is in the resolved exclusion set.
type NameMatchExclusion struct{ AgentIDs Set }

// Tagged keeps agents whose stored grant flag is set.
type Tagged struct{}

// Difference keeps agents selected by A and not by B.
type Difference struct{ A, B Rule }

// Intersect keeps agents selected by both A and B.
type Intersect struct{ A, B Rule }

func (StatusFilter) isRule()       {}
func (PriceFilter) isRule()        {}
func (MembershipList) isRule()     {}
func (NameMatchExclusion) isRule() {}
func (Tagged) isRule()             {}
func (Difference) isRule()         {}
func (Intersect) isRule()          {}

// Matches reports whether the rule selects the agent.
func Matches(r Rule, a *database.Agent) bool {
	switch r := r.(type) {
	case StatusFilter:
		return a.Status == r.Status
	case PriceFilter:
		return a.IsPaid() == r.Paid
	case MembershipList:
		for _, id := range attribution.Resolve(a) {
			if r.Builders.Has(id) {
				return true
			}
		}
		return false
	case NameMatchExclusion:
		return r.AgentIDs.Has(a.AgentID)
	case Tagged:
		return a.BuilderGrantProgram
	case Difference:
		return Matches(r.A, a) && !Matches(r.B, a)
	case Intersect:
		return Matches(r.A, a) && Matches(r.B, a)
	default:
		return false
	}
}

// Select returns the agents a rule selects, in input order.
func Select(r Rule, agents []database.Agent) []database.Agent {
	var out []database.Agent
	for i := range agents {
		if Matches(r, &agents[i]) {
			out = append(out, agents[i])
		}
	}
	return out
}

const (
	GrantProgram = "grant_program"
	PaidTraffic  = "paid_traffic"
	AllPublic    = "all_public"
	GroupB       = "group_b"
	Organic      = "organic"
	PaidNonGrant = "paid_non_grant"
)

// Definition is a named cohort rule.
type Definition struct {
	Name  string
	Label string
	Rule  Rule
}

// Definitions builds the standard cohorts from a grant rule (MembershipList
// over the run's or the stored members, Tagged only when no membership is
// stored) and the corrected exclusion set.
func Definitions(grant Rule, exclusions Set) []Definition {
	public := StatusFilter{Status: database.StatusPublic}
	excluded := NameMatchExclusion{AgentIDs: exclusions}
	return []Definition{
		{GrantProgram, "Grant Program Builders", Intersect{public, grant}},
		{PaidTraffic, "Paid Traffic", Difference{Intersect{public, excluded}, grant}},
		{AllPublic, "All Public", public},
		{GroupB, "Group B (public, non-grant)", Difference{public, grant}},
		{Organic, "Group C (organic public)", Difference{Difference{public, excluded}, grant}},
		{PaidNonGrant, "Paid, non-grant", Difference{PriceFilter{Paid: true}, grant}},
	}
}

// Lookup finds a definition by name.
func Lookup(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
