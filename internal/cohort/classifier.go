package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

var (
	// ErrMembershipUnavailable wraps any failure of the membership source.
	ErrMembershipUnavailable = errors.New("grant membership source unavailable")
	// ErrEmptyMembership is returned when the membership list has no members.
	ErrEmptyMembership = errors.New("grant membership list is empty")
	// ErrNoTargets is returned when the curated paid-traffic list is empty.
	ErrNoTargets = errors.New("paid traffic name list is empty")
)

// Store is the persistence the classifier reads from and writes to.
type Store interface {
	GetAgents(f database.AgentFilter) ([]database.Agent, error)
	ReplaceGrantMembers(listID string, members []database.GrantMember) error
	GetGrantMembers(listID string) ([]database.GrantMember, error)
	SetGrantProgramAgents(agentIDs []string) (int, error)
	ReplacePaidTrafficExclusions(matches []database.PaidTrafficMatch) error
	InsertClassificationRun(run database.ClassificationRun) error
}

// Options parameterize one classifier run.
type Options struct {
	ListID    string
	Targets   []string
	Threshold float64
	// Cached classifies from stored membership without calling the source.
	Cached bool
}

// Result is the outcome of a classifier run.
type Result struct {
	RunID       string
	Agents      []database.Agent
	Members     Set
	GrantAgents Set
	// Exclusions is the corrected paid-traffic set.
	Exclusions []NameMatch
	// Removed lists matches dropped because the agent is grant-program.
	Removed    []NameMatch
	Unresolved []string
}

// Definitions returns the standard cohorts for this result.
func (r *Result) Definitions() []Definition {
	ids := make(Set, len(r.Exclusions))
	for _, m := range r.Exclusions {
		ids.Add(m.AgentID)
	}
	return Definitions(MembershipList{Builders: r.Members}, ids)
}

// Cohort returns the agents of a named cohort.
func (r *Result) Cohort(name string) []database.Agent {
	d, ok := Lookup(r.Definitions(), name)
	if !ok {
		return nil
	}
	return Select(d.Rule, r.Agents)
}

// Classifier tags agents with grant-program and paid-traffic cohorts.
type Classifier struct {
	store  Store
	source MembershipSource
	logger *zap.Logger
}

// NewClassifier creates a classifier. source may be nil for cached runs.
func NewClassifier(store Store, source MembershipSource, logger *zap.Logger) *Classifier {
	return &Classifier{store: store, source: source, logger: logger}
}

// Run resolves membership and paid-traffic names, rewrites the stored grant
// flags and exclusion set, and returns the classification. It aborts before
// writing anything when either rule source is unavailable or empty.
func (c *Classifier) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}

	agents, err := c.store.GetAgents(database.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	members, source, err := c.members(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Step 1: paid traffic names, public agents only.
	public := Select(StatusFilter{Status: database.StatusPublic}, agents)
	matched := MatchNames(opts.Targets, public, opts.Threshold)
	c.logger.Info("matched paid traffic names",
		zap.Int("targets", len(opts.Targets)),
		zap.Int("exact", matched.Count(MatchExact)),
		zap.Int("similar", matched.Count(MatchSimilar)),
		zap.Int("unresolved", len(matched.Unresolved)))
	for _, name := range matched.Unresolved {
		c.logger.Warn("paid traffic name not found", zap.String("name", name))
	}

	// Step 2: grant tagging, replace-all.
	if !opts.Cached {
		if err := c.store.ReplaceGrantMembers(opts.ListID, members); err != nil {
			return nil, fmt.Errorf("storing grant members: %w", err)
		}
	}
	builders := make(Set, len(members))
	for _, m := range members {
		builders.Add(m.BuilderID)
	}
	grant := Select(MembershipList{Builders: builders}, agents)
	grantIDs := make([]string, len(grant))
	grantSet := make(Set, len(grant))
	for i, a := range grant {
		grantIDs[i] = a.AgentID
		grantSet.Add(a.AgentID)
	}
	flagged, err := c.store.SetGrantProgramAgents(grantIDs)
	if err != nil {
		return nil, fmt.Errorf("tagging grant program agents: %w", err)
	}
	for i := range agents {
		agents[i].BuilderGrantProgram = grantSet.Has(agents[i].AgentID)
	}
	c.logger.Info("tagged grant program agents",
		zap.String("list_id", opts.ListID),
		zap.Int("members", len(members)),
		zap.Int("agents", flagged))

	// Step 3: grant precedence over paid traffic.
	kept, removed := Correct(matched.Matches, grantSet)
	for _, m := range removed {
		c.logger.Info("removed grant program agent from paid traffic exclusions",
			zap.String("agent_id", m.AgentID), zap.String("name", m.FoundName))
	}
	rows := make([]database.PaidTrafficMatch, len(kept))
	for i, m := range kept {
		rows[i] = database.PaidTrafficMatch{
			AgentID:    m.AgentID,
			TargetName: m.Target,
			FoundName:  m.FoundName,
			MatchType:  string(m.Kind),
			Similarity: m.Similarity,
		}
	}
	if err := c.store.ReplacePaidTrafficExclusions(rows); err != nil {
		return nil, fmt.Errorf("storing paid traffic exclusions: %w", err)
	}

	res := &Result{
		RunID:       uuid.NewString(),
		Agents:      agents,
		Members:     builders,
		GrantAgents: grantSet,
		Exclusions:  kept,
		Removed:     removed,
		Unresolved:  matched.Unresolved,
	}

	if err := c.store.InsertClassificationRun(database.ClassificationRun{
		ID:             res.RunID,
		ListID:         opts.ListID,
		Source:         source,
		Members:        len(members),
		GrantAgents:    len(grantIDs),
		Exclusions:     len(kept),
		RemovedOverlap: len(removed),
		Unresolved:     len(matched.Unresolved),
	}); err != nil {
		c.logger.Warn("recording classification run", zap.Error(err))
	}

	return res, nil
}

func (c *Classifier) members(ctx context.Context, opts Options) ([]database.GrantMember, string, error) {
	if opts.Cached {
		members, err := c.store.GetGrantMembers(opts.ListID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: reading cached members: %v", ErrMembershipUnavailable, err)
		}
		if len(members) == 0 {
			return nil, "", fmt.Errorf("%w: no cached members for list %s", ErrEmptyMembership, opts.ListID)
		}
		return members, "cache", nil
	}

	if c.source == nil {
		return nil, "", fmt.Errorf("%w: no source configured", ErrMembershipUnavailable)
	}
	members, err := c.source.ListMembers(ctx, opts.ListID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrMembershipUnavailable, err)
	}
	if len(members) == 0 {
		return nil, "", fmt.Errorf("%w: list %s", ErrEmptyMembership, opts.ListID)
	}
	return members, "source", nil
}

// Correct drops matches whose agent is grant-program and collapses
// duplicate agents, keeping the first match for each.
func Correct(matches []NameMatch, grant Set) (kept, removed []NameMatch) {
	seen := make(Set)
	for _, m := range matches {
		if grant.Has(m.AgentID) {
			removed = append(removed, m)
			continue
		}
		if seen.Has(m.AgentID) {
			continue
		}
		seen.Add(m.AgentID)
		kept = append(kept, m)
	}
	return kept, removed
}

// GrantBuilders returns the builder identifiers credited on the agents the
// grant rule selects, co-authors included.
func GrantBuilders(agents []database.Agent, grant Rule) Set {
	out := make(Set)
	for _, e := range attribution.Edges(Select(grant, agents)) {
		out.Add(e.BuilderID)
	}
	return out
}
