// Package metrics rolls agent-level usage and review data up to builders
// and cohorts.
package metrics

import (
	"sort"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// rating accumulates a review-count-weighted average. Agents without
// reviews never touch it.
type rating struct {
	weighted float64
	reviews  int64
}

func (r *rating) add(a *database.Agent) {
	if a.ReviewsCount <= 0 {
		return
	}
	r.weighted += a.ReviewsScore * float64(a.ReviewsCount)
	r.reviews += a.ReviewsCount
}

func (r rating) value() (float64, bool) {
	if r.reviews == 0 {
		return 0, false
	}
	return r.weighted / float64(r.reviews), true
}

// WeightedRating is Σ(score×count)/Σcount over agents with reviews. It
// returns 0 and false when none of the agents has a review.
func WeightedRating(agents []database.Agent) (float64, bool) {
	var r rating
	for i := range agents {
		r.add(&agents[i])
	}
	return r.value()
}

// BuilderStats is the rollup of one builder's agents.
type BuilderStats struct {
	BuilderID       string
	AgentCount      int
	TotalExecutions int64
	TotalReviews    int64
	WeightedRating  float64
	Rated           bool
	Agents          []database.Agent
}

// ByBuilder rolls agents up per builder. Co-authored agents count fully for
// each author. Builders come back in first-encountered order.
func ByBuilder(agents []database.Agent) []BuilderStats {
	index := make(map[string]int)
	var out []BuilderStats
	var ratings []rating

	for _, e := range attribution.Edges(agents) {
		pos, ok := index[e.BuilderID]
		if !ok {
			pos = len(out)
			index[e.BuilderID] = pos
			out = append(out, BuilderStats{BuilderID: e.BuilderID})
			ratings = append(ratings, rating{})
		}
		b := &out[pos]
		b.AgentCount++
		b.TotalExecutions += e.Agent.Executions
		b.TotalReviews += e.Agent.ReviewsCount
		b.Agents = append(b.Agents, *e.Agent)
		ratings[pos].add(e.Agent)
	}

	for i := range out {
		out[i].WeightedRating, out[i].Rated = ratings[i].value()
	}
	return out
}

// CohortStats is the rollup of a cohort, counting each agent once.
type CohortStats struct {
	Name                  string
	AgentCount            int
	BuilderCount          int
	TotalExecutions       int64
	TotalReviews          int64
	WeightedRating        float64
	Rated                 bool
	AvgAgentsPerBuilder   float64
	AvgExecutionsPerAgent float64
	AvgReviewsPerAgent    float64
	// ShareOfPublic is the percentage of all public agents in the cohort.
	ShareOfPublic float64
	Builders      []BuilderStats
	Agents        []database.Agent
}

// Cohort computes the rollup for one cohort. totalPublic is the size of the
// all-public cohort used for ShareOfPublic; pass 0 to skip it.
func Cohort(name string, agents []database.Agent, totalPublic int) CohortStats {
	s := CohortStats{
		Name:       name,
		AgentCount: len(agents),
		Builders:   ByBuilder(agents),
		Agents:     agents,
	}
	s.BuilderCount = len(s.Builders)

	var r rating
	for i := range agents {
		s.TotalExecutions += agents[i].Executions
		s.TotalReviews += agents[i].ReviewsCount
		r.add(&agents[i])
	}
	s.WeightedRating, s.Rated = r.value()

	s.AvgAgentsPerBuilder = ratio(float64(s.AgentCount), s.BuilderCount)
	s.AvgExecutionsPerAgent = ratio(float64(s.TotalExecutions), s.AgentCount)
	s.AvgReviewsPerAgent = ratio(float64(s.TotalReviews), s.AgentCount)
	s.ShareOfPublic = 100 * ratio(float64(s.AgentCount), totalPublic)
	return s
}

func ratio(num float64, den int) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}

// TopBuilders returns up to n builders by agent count, keeping input order
// among ties. n <= 0 returns all.
func TopBuilders(builders []BuilderStats, n int) []BuilderStats {
	sorted := append([]BuilderStats(nil), builders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AgentCount > sorted[j].AgentCount
	})
	return head(sorted, n)
}

// TopAgents returns up to n agents by executions, keeping input order among
// ties. n <= 0 returns all.
func TopAgents(agents []database.Agent, n int) []database.Agent {
	sorted := append([]database.Agent(nil), agents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Executions > sorted[j].Executions
	})
	return head(sorted, n)
}

// Ranked is a builder with its 1-based position in a ranking.
type Ranked struct {
	Rank int
	BuilderStats
}

// RankBuilders ranks builders by agent count and returns positions from..to
// inclusive. Zero bounds mean the start or end of the ranking.
func RankBuilders(builders []BuilderStats, from, to int) []Ranked {
	sorted := TopBuilders(builders, 0)
	if from < 1 {
		from = 1
	}
	if to <= 0 || to > len(sorted) {
		to = len(sorted)
	}
	var out []Ranked
	for i := from - 1; i < to; i++ {
		out = append(out, Ranked{Rank: i + 1, BuilderStats: sorted[i]})
	}
	return out
}

// TagCount is how often a tag occurs across a set of agents.
type TagCount struct {
	Tag   string
	Count int
}

// TopTags flattens agent tags and returns the n most frequent, ties broken
// by first occurrence.
func TopTags(agents []database.Agent, n int) []TagCount {
	index := make(map[string]int)
	var counts []TagCount
	for _, a := range agents {
		for _, tag := range a.Tags {
			if tag == "" {
				continue
			}
			pos, ok := index[tag]
			if !ok {
				pos = len(counts)
				index[tag] = pos
				counts = append(counts, TagCount{Tag: tag})
			}
			counts[pos].Count++
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return head(counts, n)
}

func head[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
