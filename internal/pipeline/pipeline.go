// Package pipeline runs the full refresh: ingest, enrich, classify and
// summarize.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/cohort"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/ingest"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
	// Comparison is set when the summarize step ran.
	Comparison *report.Comparison
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Deps are the collaborators a refresh needs. Enricher may be nil to skip
// the CRM step.
type Deps struct {
	Source     ingest.Source
	Enricher   *crm.Enricher
	Membership cohort.MembershipSource
	Targets    []string
	Logger     *zap.Logger
}

// Pipeline orchestrates the four-step refresh.
type Pipeline struct {
	cfg  *config.Config
	db   *database.DB
	deps Deps
	now  func() time.Time
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, db: db, deps: deps, now: time.Now}
}

// Run executes the refresh. Ingest and classify failures stop the run;
// classification never runs against a half-loaded store.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}

	step := p.runIngest(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runEnrich(ctx))

	step, res := p.runClassify(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step, r.Comparison = p.runSummarize(res)
	r.Steps = append(r.Steps, step)
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun() *Result {
	r := &Result{}

	stats, err := p.db.GetStats()
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Ingest", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("[dry-run] Would replace %d stored agents from %s", stats.TotalAgents, p.deps.Source.Name()),
	})

	if p.deps.Enricher == nil {
		r.Steps = append(r.Steps, StepResult{Name: "Enrich", Summary: "[dry-run] Skipped, no CRM credentials"})
	} else {
		r.Steps = append(r.Steps, StepResult{
			Name: "Enrich",
			Summary: fmt.Sprintf("[dry-run] %d cached builders, %d with CRM data",
				stats.CachedBuilders, stats.BuildersWithMail),
		})
	}

	r.Steps = append(r.Steps, StepResult{
		Name: "Classify",
		Summary: fmt.Sprintf("[dry-run] Would classify against list %s with %d paid traffic names",
			p.cfg.Cohorts.GrantProgram.ListID, len(p.deps.Targets)),
	})

	last, _ := p.db.GetLastClassificationRun()
	summary := "[dry-run] No previous classification"
	if last != nil && last.CreatedAt != nil {
		summary = fmt.Sprintf("[dry-run] Last classification %s: %d grant agents, %d exclusions",
			*last.CreatedAt, last.GrantAgents, last.Exclusions)
	}
	r.Steps = append(r.Steps, StepResult{Name: "Summarize", Summary: summary})
	return r
}

func (p *Pipeline) runIngest(ctx context.Context) StepResult {
	p.deps.Logger.Info("step 1/4: ingesting agents", zap.String("source", p.deps.Source.Name()))
	res, err := ingest.Run(ctx, p.db, p.deps.Source, false, p.deps.Logger)
	if err != nil {
		return StepResult{Name: "Ingest", Err: err}
	}
	return StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("Stored %d agents (%d public, %d private)", res.Stored, res.Public, res.Private),
	}
}

func (p *Pipeline) runEnrich(ctx context.Context) StepResult {
	p.deps.Logger.Info("step 2/4: enriching builders")
	if p.deps.Enricher == nil {
		return StepResult{Name: "Enrich", Summary: "Skipped, no CRM credentials"}
	}
	agents, err := p.db.GetAgents(database.AgentFilter{})
	if err != nil {
		return StepResult{Name: "Enrich", Err: err}
	}
	res, err := p.deps.Enricher.Enrich(ctx, agents, false)
	if err != nil {
		return StepResult{Name: "Enrich", Err: err}
	}
	return StepResult{
		Name: "Enrich",
		Summary: fmt.Sprintf("Looked up %d builders: %d found, %d of %d batches failed",
			res.Requested, res.Found, res.FailedBatches, res.Batches),
	}
}

func (p *Pipeline) runClassify(ctx context.Context) (StepResult, *cohort.Result) {
	p.deps.Logger.Info("step 3/4: classifying cohorts")
	classifier := cohort.NewClassifier(p.db, p.deps.Membership, p.deps.Logger)
	res, err := classifier.Run(ctx, cohort.Options{
		ListID:    p.cfg.Cohorts.GrantProgram.ListID,
		Targets:   p.deps.Targets,
		Threshold: p.cfg.Cohorts.PaidTraffic.Threshold,
	})
	if err != nil {
		return StepResult{Name: "Classify", Err: err}, nil
	}
	return StepResult{
		Name: "Classify",
		Summary: fmt.Sprintf("%d grant agents, %d paid traffic exclusions (%d removed for grant overlap, %d names unresolved)",
			len(res.GrantAgents), len(res.Exclusions), len(res.Removed), len(res.Unresolved)),
	}, res
}

func (p *Pipeline) runSummarize(res *cohort.Result) (StepResult, *report.Comparison) {
	p.deps.Logger.Info("step 4/4: summarizing cohorts")
	builders, err := p.db.GetBuilders()
	if err != nil {
		return StepResult{Name: "Summarize", Err: err}, nil
	}
	c := report.Compare(res.Definitions(), res.Agents, builders, p.cfg.Reports.TopN, p.now())

	summary := fmt.Sprintf("%d public agents", c.TotalPublic)
	for _, cr := range c.Cohorts {
		summary += fmt.Sprintf(", %s %d", cr.Summary.Name, cr.Summary.Agents)
	}
	return StepResult{Name: "Summarize", Summary: summary}, c
}
