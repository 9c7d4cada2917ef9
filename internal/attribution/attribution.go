// Package attribution maps agent author fields to builder identities.
//
// Every co-author of an agent is credited with the whole agent. An agent
// whose authors field cannot be parsed has no builders and is left out of
// every builder-level rollup.
package attribution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// ErrNotObject is returned when the authors text is not a JSON object.
var ErrNotObject = errors.New("authors is not a JSON object")

// Info is the display data an agent carries for one of its authors.
type Info struct {
	Name          string `json:"name"`
	TwitterHandle string `json:"twitter_username"`
	Avatar        string `json:"avatar"`
}

// Author is one entry of an agent's authors object.
type Author struct {
	BuilderID string
	Info      Info
}

// Authors keeps source order so first-encountered ties stay stable.
type Authors []Author

// IDs returns the builder identifiers in source order.
func (as Authors) IDs() []string {
	ids := make([]string, len(as))
	for i, a := range as {
		ids[i] = a.BuilderID
	}
	return ids
}

// ParseAuthors decodes the JSON object text stored on an agent. Empty text
// and null yield no authors. Values that are not objects still contribute
// their key with empty info.
func ParseAuthors(raw string) (Authors, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing authors: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	var out Authors
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing authors: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrNotObject
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("parsing author %q: %w", key, err)
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Author{BuilderID: key, Info: decodeInfo(value)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parsing authors: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parsing authors: trailing data")
	}
	return out, nil
}

func decodeInfo(value json.RawMessage) Info {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || value[0] != '{' {
		return Info{}
	}
	var fields struct {
		Info
		TwitterHandleAlt string `json:"twitter_handle"`
	}
	if err := json.Unmarshal(value, &fields); err != nil {
		return Info{}
	}
	info := fields.Info
	if info.TwitterHandle == "" {
		info.TwitterHandle = fields.TwitterHandleAlt
	}
	return info
}

// Resolve returns the builder identifiers of an agent, or nil when its
// authors field is missing or malformed.
func Resolve(agent *database.Agent) []string {
	authors, err := ParseAuthors(agent.Authors)
	if err != nil {
		return nil
	}
	return authors.IDs()
}

// Edge links one builder to one agent it authored.
type Edge struct {
	BuilderID string
	Agent     *database.Agent
}

// Edges expands agents into builder-agent pairs, agent order first and
// author order second.
func Edges(agents []database.Agent) []Edge {
	var edges []Edge
	for i := range agents {
		for _, id := range Resolve(&agents[i]) {
			edges = append(edges, Edge{BuilderID: id, Agent: &agents[i]})
		}
	}
	return edges
}

// AuthoredBy returns the agents attributed to one builder, in input order.
func AuthoredBy(agents []database.Agent, builderID string) []database.Agent {
	var out []database.Agent
	for i := range agents {
		for _, id := range Resolve(&agents[i]) {
			if id == builderID {
				out = append(out, agents[i])
				break
			}
		}
	}
	return out
}

// Profile is the display identity of a builder as seen across its agents.
type Profile struct {
	BuilderID string
	Info
}

// Profiles returns one profile per builder in first-encountered order.
// Each field comes from the first agent that supplied a non-empty value.
func Profiles(agents []database.Agent) []Profile {
	index := make(map[string]int)
	var out []Profile
	for i := range agents {
		authors, err := ParseAuthors(agents[i].Authors)
		if err != nil {
			continue
		}
		for _, a := range authors {
			pos, ok := index[a.BuilderID]
			if !ok {
				index[a.BuilderID] = len(out)
				out = append(out, Profile{BuilderID: a.BuilderID, Info: a.Info})
				continue
			}
			p := &out[pos]
			if p.Name == "" {
				p.Name = a.Info.Name
			}
			if p.TwitterHandle == "" {
				p.TwitterHandle = a.Info.TwitterHandle
			}
			if p.Avatar == "" {
				p.Avatar = a.Info.Avatar
			}
		}
	}
	return out
}
