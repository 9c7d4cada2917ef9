package cohort

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// DefaultThreshold is the similarity a fuzzy match must exceed.
const DefaultThreshold = 0.8

// MatchKind records how a target name resolved.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchSimilar MatchKind = "similar"
)

// NameMatch ties a curated target name to the agent it resolved to.
type NameMatch struct {
	Target     string
	AgentID    string
	FoundName  string
	Kind       MatchKind
	Similarity float64
}

// MatchResult is the outcome of resolving the curated name list.
type MatchResult struct {
	Matches    []NameMatch
	Unresolved []string
}

// Count returns the number of matches of one kind.
func (r *MatchResult) Count(kind MatchKind) int {
	var n int
	for _, m := range r.Matches {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Similarity is the character-level sequence ratio 2*M/T of the
// case-folded strings.
func Similarity(a, b string) float64 {
	fold := cases.Fold()
	return ratio(fold.String(a), fold.String(b))
}

func ratio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

// MatchNames resolves each target against candidate agent names. An exact
// case-insensitive match wins outright, first candidate first. Otherwise
// the best fuzzy candidate is taken if its ratio is strictly above
// threshold. Targets that resolve to nothing are reported as unresolved.
func MatchNames(targets []string, candidates []database.Agent, threshold float64) MatchResult {
	fold := cases.Fold()
	folded := make([]string, len(candidates))
	for i := range candidates {
		folded[i] = fold.String(candidates[i].Name)
	}

	var r MatchResult
	for _, target := range targets {
		ft := fold.String(target)

		exact := -1
		for i, name := range folded {
			if name != "" && name == ft {
				exact = i
				break
			}
		}
		if exact >= 0 {
			r.Matches = append(r.Matches, NameMatch{
				Target:     target,
				AgentID:    candidates[exact].AgentID,
				FoundName:  candidates[exact].Name,
				Kind:       MatchExact,
				Similarity: 1,
			})
			continue
		}

		best, bestScore := -1, 0.0
		for i, name := range folded {
			if name == "" {
				continue
			}
			if score := ratio(ft, name); score > bestScore && score > threshold {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			r.Unresolved = append(r.Unresolved, target)
			continue
		}
		r.Matches = append(r.Matches, NameMatch{
			Target:     target,
			AgentID:    candidates[best].AgentID,
			FoundName:  candidates[best].Name,
			Kind:       MatchSimilar,
			Similarity: bestScore,
		})
	}
	return r
}
