package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/persistence/memory"
	"github.com/lyutobor/OneuiBot-sub000/internal/interface/http/handlers"
)

const testAPIKey = "secret"

type fakeFeed struct {
	entries []achievement.AuditEntry
	err     error
	gotUser int64
	gotN    int
}

func (f *fakeFeed) Recent(_ context.Context, userID int64, n int) ([]achievement.AuditEntry, error) {
	f.gotUser, f.gotN = userID, n
	return f.entries, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

type fixture struct {
	srv    *httptest.Server
	ledger *memory.Ledger
	audit  *memory.AuditLog
	engine *engine.Engine
}

func testCatalog() *achievement.Catalog {
	return achievement.MustCatalog(
		achievement.Definition{
			Key:        "first_deal",
			Type:       achievement.TypeBooleanFlagOnce,
			ContextKey: "deal_done",
			Target:     achievement.FlagTarget(),
			Display:    achievement.Display{Name: "First deal", Icon: "🤝"},
		},
		achievement.Definition{
			Key:        "chatterbox",
			Type:       achievement.TypeCumulativeCounter,
			ContextKey: "message",
			Target:     achievement.NumberTarget(3),
			Display:    achievement.Display{Name: "Chatterbox"},
		},
	)
}

func newFixture(t *testing.T, feed RecentFeed) *fixture {
	t.Helper()

	ledger := memory.NewLedger()
	audit := memory.NewAuditLog()
	eng := engine.New(testCatalog(), engine.NewMetricSource(), ledger)

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("ledger", func(context.Context) error { return nil })

	s := NewServer(Config{APIKey: testAPIKey, Version: "test"}, Dependencies{
		Engine:        eng,
		Ledger:        ledger,
		Audit:         audit,
		Feed:          feed,
		HealthChecker: checker,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, ledger: ledger, audit: audit, engine: eng}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, env := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, env.Success, path)
		assert.NotEmpty(t, resp.Header.Get(handlers.RequestIDHeader), path)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), path)
	}
}

func TestListCatalog(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodGet, "/api/v1/achievements", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var defs []DefinitionView
	require.NoError(t, json.Unmarshal(env.Data, &defs))
	require.Len(t, defs, 2)
	assert.Equal(t, "first_deal", defs[0].Key)
	assert.Nil(t, defs[0].Target)
	assert.Equal(t, "chatterbox", defs[1].Key)
	require.NotNil(t, defs[1].Target)
	assert.Equal(t, 3.0, *defs[1].Target)
	assert.Equal(t, 2, env.Meta.TotalCount)
}

func TestEvaluate_RequiresAPIKey(t *testing.T) {
	f := newFixture(t, nil)
	body := EvaluateRequest{UserID: 7, Wait: true}

	resp, env := f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	resp, env = f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", env.Error.Code)
}

func TestEvaluate_WaitReturnsReport(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", EvaluateRequest{
		UserID:  7,
		Context: map[string]any{"deal_done": true, "message": true},
		Wait:    true,
	}, map[string]string{"Authorization": "Bearer " + testAPIKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep ReportView
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, int64(7), rep.UserID)
	assert.Equal(t, int64(7), rep.ChatID)
	assert.Equal(t, string(engine.StateDone), rep.State)
	assert.Equal(t, []string{"first_deal"}, rep.Unlocked)
	assert.Equal(t, []string{"chatterbox"}, rep.ProgressUpdated)

	resp, env = f.do(t, http.MethodGet, "/api/v1/users/7/achievements", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view UserAchievementsView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Len(t, view.Unlocked, 1)
	assert.Equal(t, "first_deal", view.Unlocked[0].Key)
	require.Len(t, view.Progress, 1)
	assert.Equal(t, "chatterbox", view.Progress[0].Key)
	assert.Equal(t, int64(1), view.Progress[0].Progress.Count)
}

func TestEvaluate_AsyncIsAccepted(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", EvaluateRequest{
		UserID:  9,
		ChatID:  -100,
		Context: map[string]any{"deal_done": true},
	}, map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Wait(ctx))
	assert.Equal(t, 1, f.ledger.UnlockCount(9))
}

func TestEvaluate_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	auth := map[string]string{"X-API-Key": testAPIKey}

	resp, env := f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", EvaluateRequest{UserID: 0}, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_user", env.Error.Code)

	resp, env = f.do(t, http.MethodPost, "/api/v1/achievements/evaluate", "not an object", auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_body", env.Error.Code)
}

func TestUserEndpoints_ValidateParams(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodGet, "/api/v1/users/abc/achievements", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_user", env.Error.Code)

	resp, env = f.do(t, http.MethodGet, "/api/v1/users/1/audit?limit=-3", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_limit", env.Error.Code)
}

func TestUserAudit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, f.audit.Record(ctx, achievement.AuditEntry{UserID: 3, Key: key}))
	}
	require.NoError(t, f.audit.Record(ctx, achievement.AuditEntry{UserID: 4, Key: "x"}))

	resp, env := f.do(t, http.MethodGet, "/api/v1/users/3/audit?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []achievement.AuditEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
}

func TestRecentFeed(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		resp, env := f.do(t, http.MethodGet, "/api/v1/achievements/recent", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "feed_unavailable", env.Error.Code)
	})

	t.Run("passes filters", func(t *testing.T) {
		feed := &fakeFeed{entries: []achievement.AuditEntry{{UserID: 5, Key: "first_deal"}}}
		f := newFixture(t, feed)

		resp, env := f.do(t, http.MethodGet, "/api/v1/achievements/recent?user=5&limit=10000", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(5), feed.gotUser)
		assert.Equal(t, maxListLimit, feed.gotN)
		assert.Equal(t, 1, env.Meta.TotalCount)
	})

	t.Run("feed error", func(t *testing.T) {
		f := newFixture(t, &fakeFeed{err: errors.New("redis down")})
		resp, env := f.do(t, http.MethodGet, "/api/v1/achievements/recent", nil, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "feed_error", env.Error.Code)
	})
}
