package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// newTestClient points a client at srv and records sleeps instead of waiting.
func newTestClient(t *testing.T, srv *httptest.Server, cfg config.CRM) (*Client, *[]time.Duration) {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	c := NewClient(cfg, "test-key", zaptest.NewLogger(t))
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func TestListMembersPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/v1/lists/301/contacts/all", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.ElementsMatch(t, []string{"email", "platform_user_token"}, r.URL.Query()["property"])

		switch r.URL.Query().Get("vidOffset") {
		case "":
			w.Write([]byte(`{"contacts": [
				{"vid": 1, "properties": {"email": {"value": "A@X.com"}, "platform_user_token": {"value": "tok1"}}},
				{"vid": 2, "properties": {"email": {"value": "noToken@x.com"}}}
			], "has-more": true, "vid-offset": 2}`))
		case "2":
			w.Write([]byte(`{"contacts": [
				{"vid": 3, "properties": {"email": {"value": "c@x.com"}, "platform_user_token": {"value": "tok3"}}},
				{"vid": 4, "properties": {"email": {"value": "dup@x.com"}, "platform_user_token": {"value": "tok1"}}}
			], "has-more": false, "vid-offset": 4}`))
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("vidOffset"))
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, config.CRM{})
	members, err := c.ListMembers(context.Background(), "301")
	require.NoError(t, err)
	assert.Equal(t, []database.GrantMember{
		{ListID: "301", Email: "a@x.com", BuilderID: "tok1"},
		{ListID: "301", Email: "c@x.com", BuilderID: "tok3"},
	}, members)
	assert.Equal(t, 2, c.Calls())
}

func TestSearchByTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/contacts/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.FilterGroups, 2)
		assert.Equal(t, "platform_user_token", req.FilterGroups[0].Filters[0].PropertyName)
		assert.Equal(t, "EQ", req.FilterGroups[0].Filters[0].Operator)
		assert.Contains(t, req.Properties, "linkedin_url")

		w.Write([]byte(`{"total": 1, "results": [{"id": "99", "properties": {
			"email": "Ada@Example.com", "firstname": "Ada", "lastname": null,
			"platform_user_token": "tok1", "company": "Acme",
			"agentai_platform_credits_balance": "12.5"}}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, config.CRM{})
	contacts, err := c.SearchByTokens(context.Background(), []string{"tok1", "tok2"})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	ct := contacts[0]
	assert.Equal(t, "tok1", ct.PlatformUserToken)
	assert.Equal(t, "ada@example.com", ct.Email)
	assert.Equal(t, "", ct.LastName)
	assert.Equal(t, "Acme", ct.Company)
	require.NotNil(t, ct.CreditsBalance)
	assert.Equal(t, 12.5, *ct.CreditsBalance)
}

func TestSearchByTokensLimits(t *testing.T) {
	c := NewClient(config.CRM{BaseURL: "http://unused"}, "k", zaptest.NewLogger(t))
	got, err := c.SearchByTokens(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = c.SearchByTokens(context.Background(), []string{"1", "2", "3", "4", "5", "6"})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Calls())
}

func TestFindByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.FilterGroups[0].Filters[0].Value == "known@x.com" {
			w.Write([]byte(`{"results": [{"id": "1", "properties": {"email": "known@x.com", "linkedin_url": "https://linkedin.com/in/k"}}]}`))
			return
		}
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, config.CRM{})
	ct, err := c.FindByEmail(context.Background(), "known@x.com")
	require.NoError(t, err)
	require.NotNil(t, ct)
	assert.Equal(t, "https://linkedin.com/in/k", ct.LinkedInURL)

	ct, err = c.FindByEmail(context.Background(), "unknown@x.com")
	require.NoError(t, err)
	assert.Nil(t, ct)

	ct, err = c.FindByEmail(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, ct)
	assert.Equal(t, 2, c.Calls())
}

func TestRetryWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte(`{"results": []}`))
		}
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, config.CRM{})
	_, err := c.SearchByTokens(context.Background(), []string{"tok"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 0, 2 * time.Second, 0}, *slept)
}

func TestRetryGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, config.CRM{})
	_, err := c.SearchByTokens(context.Background(), []string{"tok"})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNoRetryOnClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv, config.CRM{})
			_, err := c.SearchByTokens(context.Background(), []string{"tok"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(1), hits.Load())
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "bad filter"}`))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv, config.CRM{})
	_, err := c.SearchByTokens(context.Background(), []string{"tok"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Body, "bad filter")
	assert.Equal(t, 1, c.Calls())
}

func TestUndecodableResponseNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"results": [`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, config.CRM{})
	_, err := c.SearchByTokens(context.Background(), []string{"tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *slept)
}

func TestPacingAndCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, config.CRM{
		RequestDelay:  100 * time.Millisecond,
		CooldownEvery: 3,
		Cooldown:      10 * time.Second,
	})
	for i := 0; i < 5; i++ {
		_, err := c.SearchByTokens(context.Background(), []string{"tok"})
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		10 * time.Second,
		100 * time.Millisecond,
	}, *slept)
}

func TestCanceledContextStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, config.CRM{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SearchByTokens(ctx, []string{"tok"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), 0))
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
