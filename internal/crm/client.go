// Package crm talks to the HubSpot CRM: grant program list membership and
// contact lookups by platform token or email.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// MaxFilterGroups is the most filter groups one contact search accepts.
const MaxFilterGroups = 5

var (
	ErrUnauthorized = errors.New("crm: unauthorized")
	ErrNotFound     = errors.New("crm: not found")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// contactProperties are requested on every search.
var contactProperties = []string{
	"email", "firstname", "lastname", "platform_user_token", "linkedin_url",
	"lastmodifieddate", "company", "jobtitle", "agentai_platform_credits_balance",
}

// Contact is the subset of CRM contact fields this tool uses.
type Contact struct {
	ID                string
	PlatformUserToken string
	Email             string
	FirstName         string
	LastName          string
	LinkedInURL       string
	Company           string
	JobTitle          string
	LastActivityDate  string
	CreditsBalance    *float64
}

// Client is a paced, retrying HubSpot client. It is not safe for
// concurrent use.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	logger        *zap.Logger
	requestDelay  time.Duration
	maxAttempts   int
	backoff       time.Duration
	cooldownEvery int
	cooldown      time.Duration

	calls int
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client from CRM config and an API key.
func NewClient(cfg config.CRM, apiKey string, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        apiKey,
		http:          &http.Client{Timeout: timeout},
		logger:        logger,
		requestDelay:  cfg.RequestDelay,
		maxAttempts:   attempts,
		backoff:       cfg.Backoff,
		cooldownEvery: cfg.CooldownEvery,
		cooldown:      cfg.Cooldown,
		sleep:         sleepCtx,
	}
}

// Calls returns the number of HTTP requests sent so far.
func (c *Client) Calls() int {
	return c.calls
}

// ListMembers pages through a static contact list and returns members that
// carry both an email and a platform token.
func (c *Client) ListMembers(ctx context.Context, listID string) ([]database.GrantMember, error) {
	var (
		members []database.GrantMember
		offset  int64
		seen    = make(map[string]bool)
	)
	for page := 1; ; page++ {
		q := url.Values{
			"count":    {"100"},
			"property": {"email", "platform_user_token"},
		}
		if offset > 0 {
			q.Set("vidOffset", strconv.FormatInt(offset, 10))
		}

		var resp struct {
			Contacts []struct {
				VID        int64 `json:"vid"`
				Properties map[string]struct {
					Value string `json:"value"`
				} `json:"properties"`
			} `json:"contacts"`
			HasMore   bool  `json:"has-more"`
			VIDOffset int64 `json:"vid-offset"`
		}
		path := "/contacts/v1/lists/" + url.PathEscape(listID) + "/contacts/all"
		if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, fmt.Errorf("listing members of list %s (page %d): %w", listID, page, err)
		}

		for _, ct := range resp.Contacts {
			email := strings.ToLower(strings.TrimSpace(ct.Properties["email"].Value))
			token := strings.TrimSpace(ct.Properties["platform_user_token"].Value)
			if email == "" || token == "" || seen[token] {
				continue
			}
			seen[token] = true
			members = append(members, database.GrantMember{ListID: listID, Email: email, BuilderID: token})
		}
		c.logger.Debug("fetched list page",
			zap.String("list_id", listID), zap.Int("page", page),
			zap.Int("contacts", len(resp.Contacts)), zap.Bool("has_more", resp.HasMore))

		if !resp.HasMore || resp.VIDOffset == offset {
			break
		}
		offset = resp.VIDOffset
	}
	c.logger.Info("loaded list members", zap.String("list_id", listID), zap.Int("members", len(members)))
	return members, nil
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type searchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID         string             `json:"id"`
		Properties map[string]*string `json:"properties"`
	} `json:"results"`
}

// SearchByTokens looks up contacts by platform token, at most
// MaxFilterGroups tokens per call. Tokens without a contact are absent from
// the result.
func (c *Client) SearchByTokens(ctx context.Context, tokens []string) ([]Contact, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > MaxFilterGroups {
		return nil, fmt.Errorf("crm: %d tokens exceeds %d filter groups", len(tokens), MaxFilterGroups)
	}
	groups := make([]filterGroup, len(tokens))
	for i, tok := range tokens {
		groups[i] = filterGroup{Filters: []filter{{PropertyName: "platform_user_token", Operator: "EQ", Value: tok}}}
	}
	return c.search(ctx, groups)
}

// FindByEmail returns the contact with the given email, or nil if none.
func (c *Client) FindByEmail(ctx context.Context, email string) (*Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	contacts, err := c.search(ctx, []filterGroup{{Filters: []filter{{PropertyName: "email", Operator: "EQ", Value: email}}}})
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

func (c *Client) search(ctx context.Context, groups []filterGroup) ([]Contact, error) {
	req := searchRequest{FilterGroups: groups, Properties: contactProperties, Limit: 100}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", nil, req, &resp); err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(resp.Results))
	for _, r := range resp.Results {
		p := func(name string) string {
			if v := r.Properties[name]; v != nil {
				return strings.TrimSpace(*v)
			}
			return ""
		}
		ct := Contact{
			ID:                r.ID,
			PlatformUserToken: p("platform_user_token"),
			Email:             strings.ToLower(p("email")),
			FirstName:         p("firstname"),
			LastName:          p("lastname"),
			LinkedInURL:       p("linkedin_url"),
			Company:           p("company"),
			JobTitle:          p("jobtitle"),
			LastActivityDate:  p("lastmodifieddate"),
		}
		if s := p("agentai_platform_credits_balance"); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				ct.CreditsBalance = &f
			}
		}
		contacts = append(contacts, ct)
	}
	return contacts, nil
}

// do sends one logical request, pacing calls and retrying 429, 5xx and
// transport errors with exponential backoff. The body of the successful
// attempt is decoded into out once; a decode failure is not retried.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}

		var data []byte
		data, lastErr = c.send(ctx, method, u, payload)
		if lastErr == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		}

		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		if errors.Is(lastErr, ErrUnauthorized) || errors.Is(lastErr, ErrNotFound) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff << (attempt - 1)
		c.logger.Warn("crm request failed, retrying",
			zap.String("path", path), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(lastErr))
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) pace(ctx context.Context) error {
	if c.calls > 0 {
		if c.cooldownEvery > 0 && c.calls%c.cooldownEvery == 0 {
			c.logger.Info("crm cooldown", zap.Int("calls", c.calls), zap.Duration("pause", c.cooldown))
			if err := c.sleep(ctx, c.cooldown); err != nil {
				return err
			}
		} else if err := c.sleep(ctx, c.requestDelay); err != nil {
			return err
		}
	}
	c.calls++
	return nil
}

// send performs one attempt and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
