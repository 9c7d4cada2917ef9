package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// ErrUnauthorized is returned when the marketplace rejects the API key.
var ErrUnauthorized = errors.New("marketplace: unauthorized")

// Query selects agents from the marketplace listing.
type Query struct {
	Status string
	Tag    string
	// Limit caps the number of agents fetched; 0 fetches every page.
	Limit int
}

// Client fetches agent listings from the marketplace API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a marketplace client.
func NewClient(cfg config.Marketplace, apiKey string, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type findRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Tag    string `json:"tag,omitempty"`
}

// record is one agent as the listing API returns it.
type record struct {
	AgentID      string          `json:"agent_id"`
	AgentIDHuman *string         `json:"agent_id_human"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Type         *string         `json:"type"`
	Executions   json.RawMessage `json:"executions"`
	ReviewsCount json.RawMessage `json:"reviews_count"`
	ReviewsScore json.RawMessage `json:"reviews_score"`
	Price        json.RawMessage `json:"price"`
	Authors      json.RawMessage `json:"authors"`
	Tags         json.RawMessage `json:"tags"`
	CreatedAt    *string         `json:"created_at"`
	UpdatedAt    *string         `json:"updated_at"`
}

// FindAgents pages through find_agents until a short page or the query
// limit is reached.
func (c *Client) FindAgents(ctx context.Context, q Query) ([]database.Agent, error) {
	status := q.Status
	if status == "" {
		status = database.StatusPublic
	}

	var agents []database.Agent
	for offset := 0; ; {
		size := c.pageSize
		if q.Limit > 0 && q.Limit-len(agents) < size {
			size = q.Limit - len(agents)
		}

		page, err := c.findPage(ctx, findRequest{Status: status, Limit: size, Offset: offset, Tag: q.Tag})
		if err != nil {
			return nil, fmt.Errorf("fetching %s agents at offset %d: %w", status, offset, err)
		}
		for _, r := range page {
			if r.AgentID == "" {
				continue
			}
			agents = append(agents, r.agent())
		}
		c.logger.Debug("fetched agent page",
			zap.String("status", status), zap.Int("offset", offset), zap.Int("records", len(page)))

		offset += len(page)
		if len(page) < size || (q.Limit > 0 && len(agents) >= q.Limit) {
			break
		}
	}

	c.logger.Info("fetched agents", zap.String("status", status), zap.Int("agents", len(agents)))
	return agents, nil
}

func (c *Client) findPage(ctx context.Context, body findRequest) ([]record, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/action/find_agents", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Response []record `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result.Response, nil
}

func (r record) agent() database.Agent {
	a := database.Agent{
		AgentID:      r.AgentID,
		AgentIDHuman: r.AgentIDHuman,
		Name:         strings.TrimSpace(r.Name),
		Description:  r.Description,
		Status:       r.Status,
		Type:         r.Type,
		CreatedAt:    normalizeTimestamp(r.CreatedAt),
		UpdatedAt:    normalizeTimestamp(r.UpdatedAt),
	}
	a.Executions = count(number(r.Executions))
	a.ReviewsCount = count(number(r.ReviewsCount))
	if f := number(r.ReviewsScore); f != nil {
		a.ReviewsScore = *f
	}
	a.Price = number(r.Price)

	if authors := bytes.TrimSpace(r.Authors); len(authors) > 0 && !bytes.Equal(authors, []byte("null")) {
		a.Authors = string(authors)
	}
	a.Tags = parseTags(string(r.Tags))
	return a
}

// number reads a JSON number or a quoted number. Anything else is nil.
func number(raw json.RawMessage) *float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return nil
	}
	return parseNumber(s)
}

// parseNumber parses a finite number. NaN and infinities are nil.
func parseNumber(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// count truncates a parsed number to a non-negative count.
func count(f *float64) int64 {
	switch {
	case f == nil || *f <= 0:
		return 0
	case *f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(*f)
}

// parseTags accepts a JSON array of strings or a comma separated list.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	var tags []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil
		}
		return tags
	}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

const storedTimestamp = "2006-01-02 15:04:05"

// normalizeTimestamp stores RFC 1123 dates as "YYYY-MM-DD HH:MM:SS" and
// keeps any other value unchanged.
func normalizeTimestamp(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(layout, v); err == nil {
			v = t.Format(storedTimestamp)
			break
		}
	}
	return &v
}
