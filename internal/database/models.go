package database

import "strings"

const (
	StatusPublic  = "public"
	StatusPrivate = "private"
)

// Agent is one marketplace entry.
type Agent struct {
	AgentID      string
	AgentIDHuman *string
	Name         string
	Description  string
	Status       string
	Type         *string
	Executions   int64
	ReviewsCount int64
	// ReviewsScore is meaningless when ReviewsCount is zero.
	ReviewsScore float64
	Price        *float64
	// Authors is the raw JSON object text keyed by builder identifier.
	Authors   string
	Tags      []string
	CreatedAt *string
	UpdatedAt *string
	// BuilderGrantProgram caches the last classifier result.
	BuilderGrantProgram bool
}

// IsPublic reports whether the agent is listed publicly.
func (a *Agent) IsPublic() bool {
	return a.Status == StatusPublic
}

// IsPaid reports whether the agent has a positive price.
func (a *Agent) IsPaid() bool {
	return a.Price != nil && *a.Price > 0
}

// Builder is the cached profile of an agent author.
type Builder struct {
	BuilderID        string
	Name             *string
	TwitterHandle    *string
	Avatar           *string
	Email            *string
	FirstName        *string
	LastName         *string
	LinkedInURL      *string
	Company          *string
	JobTitle         *string
	LastActivityDate *string
	CreditsBalance   *float64
	RefreshedAt      *string
}

// DisplayName is the agent-supplied name, else the CRM first and last name.
func (b *Builder) DisplayName() string {
	if b.Name != nil && strings.TrimSpace(*b.Name) != "" {
		return strings.TrimSpace(*b.Name)
	}
	var parts []string
	for _, p := range []*string{b.FirstName, b.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}

// GrantMember is one row of the grant program membership list.
type GrantMember struct {
	ListID    string
	Email     string
	BuilderID string
	FetchedAt *string
}

// PaidTrafficMatch is an agent matched against the curated promoted-name list.
type PaidTrafficMatch struct {
	AgentID    string
	TargetName string
	FoundName  string
	MatchType  string // "exact" or "similar"
	Similarity float64
}

// ClassificationRun records the outcome of a classifier run.
type ClassificationRun struct {
	ID             string
	ListID         string
	Source         string
	Members        int
	GrantAgents    int
	Exclusions     int
	RemovedOverlap int
	Unresolved     int
	CreatedAt      *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalAgents      int
	PublicAgents     int
	PrivateAgents    int
	PaidAgents       int
	GrantAgents      int
	Exclusions       int
	CachedBuilders   int
	BuildersWithMail int
	GrantMembers     int
}
