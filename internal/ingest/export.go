package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// ErrMissingColumn is returned when an export lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

var requiredColumns = []string{"agent_id", "name", "status"}

// ReadExport loads agents from a CSV or TSV export with a header row. Files
// ending in .tsv, or whose header contains a tab, are read as TSV.
func ReadExport(path string) ([]database.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}

	comma := ','
	header, _, _ := bytes.Cut(data, []byte("\n"))
	if strings.EqualFold(filepath.Ext(path), ".tsv") || bytes.ContainsRune(header, '\t') {
		comma = '\t'
	}
	agents, err := ParseExport(bytes.NewReader(data), comma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return agents, nil
}

// ParseExport reads delimited agent rows. Malformed numbers become zero;
// rows without an agent_id are skipped.
func ParseExport(r io.Reader, comma rune) ([]database.Agent, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var agents []database.Agent
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		opt := func(name string) *string {
			if v := get(name); v != "" {
				return &v
			}
			return nil
		}

		a := database.Agent{
			AgentID:      get("agent_id"),
			AgentIDHuman: opt("agent_id_human"),
			Name:         get("name"),
			Description:  get("description"),
			Status:       strings.ToLower(get("status")),
			Type:         opt("type"),
			Authors:      get("authors"),
			Tags:         parseTags(get("tags")),
			CreatedAt:    normalizeTimestamp(opt("created_at")),
			UpdatedAt:    normalizeTimestamp(opt("updated_at")),
		}
		if a.AgentID == "" {
			continue
		}
		a.Executions = count(parseNumber(get("executions")))
		a.ReviewsCount = count(parseNumber(get("reviews_count")))
		if f := parseNumber(get("reviews_score")); f != nil {
			a.ReviewsScore = *f
		}
		a.Price = parseNumber(get("price"))

		if a.Authors == "" {
			if tok := get("user_token"); tok != "" {
				a.Authors = authorsFor(tok)
			}
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// authorsFor builds an authors object crediting a single builder.
func authorsFor(token string) string {
	data, _ := json.Marshal(map[string]struct{}{token: {}})
	return string(data)
}
