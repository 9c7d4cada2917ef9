package crm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/attribution"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// BuilderStore persists enriched builder profiles.
type BuilderStore interface {
	GetEnrichedBuilderIDs() (map[string]bool, error)
	UpsertBuilders(builders []database.Builder) (int, error)
}

// Searcher looks up contacts by platform token.
type Searcher interface {
	SearchByTokens(ctx context.Context, tokens []string) ([]Contact, error)
}

// EnrichResult summarizes one enrichment pass.
type EnrichResult struct {
	Builders      int
	Skipped       int
	Requested     int
	Found         int
	Batches       int
	FailedBatches int
}

// Enricher fills the builder cache from agent author data and CRM contacts.
type Enricher struct {
	store     BuilderStore
	searcher  Searcher
	batchSize int
	logger    *zap.Logger
}

// NewEnricher creates an enricher. batchSize is clamped to 1..MaxFilterGroups.
func NewEnricher(store BuilderStore, searcher Searcher, batchSize int, logger *zap.Logger) *Enricher {
	if batchSize < 1 || batchSize > MaxFilterGroups {
		batchSize = MaxFilterGroups
	}
	return &Enricher{store: store, searcher: searcher, batchSize: batchSize, logger: logger}
}

// Enrich caches a profile for every builder attributed on agents, then looks
// up builders without CRM data. force re-queries builders already enriched.
// A failed batch is logged and skipped; the run goes on.
func (e *Enricher) Enrich(ctx context.Context, agents []database.Agent, force bool) (*EnrichResult, error) {
	profiles := attribution.Profiles(agents)
	res := &EnrichResult{Builders: len(profiles)}
	if len(profiles) == 0 {
		return res, nil
	}

	base := make([]database.Builder, len(profiles))
	for i, p := range profiles {
		base[i] = database.Builder{
			BuilderID:     p.BuilderID,
			Name:          optional(p.Name),
			TwitterHandle: optional(p.TwitterHandle),
			Avatar:        optional(p.Avatar),
		}
	}
	if _, err := e.store.UpsertBuilders(base); err != nil {
		return nil, fmt.Errorf("caching builder profiles: %w", err)
	}

	enriched := map[string]bool{}
	if !force {
		var err error
		if enriched, err = e.store.GetEnrichedBuilderIDs(); err != nil {
			return nil, fmt.Errorf("loading enriched builders: %w", err)
		}
	}

	var pending []string
	for _, p := range profiles {
		if enriched[p.BuilderID] {
			res.Skipped++
			continue
		}
		pending = append(pending, p.BuilderID)
	}
	res.Requested = len(pending)

	for start := 0; start < len(pending); start += e.batchSize {
		end := min(start+e.batchSize, len(pending))
		batch := pending[start:end]
		res.Batches++

		contacts, err := e.searcher.SearchByTokens(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.FailedBatches++
			e.logger.Warn("enrichment batch failed",
				zap.Int("batch", res.Batches), zap.Strings("builders", batch),
				zap.Bool("unauthorized", errors.Is(err, ErrUnauthorized)), zap.Error(err))
			continue
		}

		requested := make(map[string]bool, len(batch))
		for _, id := range batch {
			requested[id] = true
		}
		var found []database.Builder
		for _, ct := range contacts {
			if !requested[ct.PlatformUserToken] {
				continue
			}
			delete(requested, ct.PlatformUserToken)
			found = append(found, contactBuilder(ct))
		}
		if len(found) == 0 {
			continue
		}
		if _, err := e.store.UpsertBuilders(found); err != nil {
			return res, fmt.Errorf("saving enriched builders: %w", err)
		}
		res.Found += len(found)
	}

	e.logger.Info("enrichment finished",
		zap.Int("builders", res.Builders), zap.Int("requested", res.Requested),
		zap.Int("found", res.Found), zap.Int("failed_batches", res.FailedBatches))
	return res, nil
}

func contactBuilder(ct Contact) database.Builder {
	return database.Builder{
		BuilderID:        ct.PlatformUserToken,
		Email:            optional(ct.Email),
		FirstName:        optional(ct.FirstName),
		LastName:         optional(ct.LastName),
		LinkedInURL:      optional(ct.LinkedInURL),
		Company:          optional(ct.Company),
		JobTitle:         optional(ct.JobTitle),
		LastActivityDate: optional(ct.LastActivityDate),
		CreditsBalance:   ct.CreditsBalance,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
