// Package ingest loads marketplace agents into the local store, either from
// the listing API or from an export file.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// Source produces the full agent set for one ingestion.
type Source interface {
	Name() string
	Agents(ctx context.Context) ([]database.Agent, error)
}

// APISource fetches agents for each configured status.
type APISource struct {
	Client   *Client
	Statuses []string
	Tag      string
	Limit    int
}

func (s APISource) Name() string { return "api" }

func (s APISource) Agents(ctx context.Context) ([]database.Agent, error) {
	statuses := s.Statuses
	if len(statuses) == 0 {
		statuses = []string{database.StatusPublic}
	}
	var all []database.Agent
	for _, status := range statuses {
		agents, err := s.Client.FindAgents(ctx, Query{Status: status, Tag: s.Tag, Limit: s.Limit})
		if err != nil {
			return nil, err
		}
		all = append(all, agents...)
	}
	return all, nil
}

// FileSource reads an agent export.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Agents(context.Context) ([]database.Agent, error) {
	return ReadExport(s.Path)
}

// Store receives ingested agents.
type Store interface {
	ReplaceAgents(agents []database.Agent) (int, error)
	UpsertAgents(agents []database.Agent) (int, error)
}

// Result summarizes one ingestion.
type Result struct {
	Source     string
	Fetched    int
	Stored     int
	Public     int
	Private    int
	Duplicates int
}

// Run loads every agent from src and stores it. By default the stored set
// is replaced wholesale; merge upserts instead and keeps agents the source
// no longer lists.
func Run(ctx context.Context, store Store, src Source, merge bool, logger *zap.Logger) (*Result, error) {
	agents, err := src.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading agents from %s: %w", src.Name(), err)
	}

	res := &Result{Source: src.Name(), Fetched: len(agents)}
	agents = dedupe(agents)
	res.Duplicates = res.Fetched - len(agents)
	for i := range agents {
		switch agents[i].Status {
		case database.StatusPublic:
			res.Public++
		case database.StatusPrivate:
			res.Private++
		}
	}

	if merge {
		res.Stored, err = store.UpsertAgents(agents)
	} else {
		res.Stored, err = store.ReplaceAgents(agents)
	}
	if err != nil {
		return nil, fmt.Errorf("storing agents: %w", err)
	}

	logger.Info("ingested agents",
		zap.String("source", res.Source), zap.Int("stored", res.Stored),
		zap.Int("public", res.Public), zap.Int("private", res.Private),
		zap.Int("duplicates", res.Duplicates), zap.Bool("merge", merge))
	return res, nil
}

// dedupe keeps the last record per agent id at the position of the first.
func dedupe(agents []database.Agent) []database.Agent {
	index := make(map[string]int, len(agents))
	out := make([]database.Agent, 0, len(agents))
	for _, a := range agents {
		if pos, ok := index[a.AgentID]; ok {
			out[pos] = a
			continue
		}
		index[a.AgentID] = len(out)
		out = append(out, a)
	}
	return out
}
