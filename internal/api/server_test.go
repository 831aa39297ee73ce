package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurdocs/policy-crawler/internal/cache"
	"github.com/insurdocs/policy-crawler/internal/crawler"
	"github.com/insurdocs/policy-crawler/internal/storage/memory"
)

type stubRunner struct {
	executed chan *crawler.CrawlSession
}

func (r *stubRunner) Execute(_ context.Context, sess *crawler.CrawlSession) error {
	r.executed <- sess
	return nil
}

type testEnv struct {
	server   *Server
	store    *memory.Store
	registry *crawler.Registry
	logs     *crawler.LogBuffer
	runner   *stubRunner
	views    *cache.Cache
}

func newTestEnv(t *testing.T, ceiling int) *testEnv {
	t.Helper()
	store := memory.NewStore()
	registry := crawler.NewRegistry(ceiling, nil, nil)
	logs := crawler.NewLogBuffer(0, nil)
	runner := &stubRunner{executed: make(chan *crawler.CrawlSession, 1)}
	views := cache.New(time.Minute)
	settings := crawler.Settings{
		MaxPagesAbsolute:   500,
		MaxMinutesAbsolute: 60,
		MaxConcurrent:      ceiling,
	}
	srv := NewServer(store, registry, logs, runner, views, settings, nil, nil)
	return &testEnv{
		server:   srv,
		store:    store,
		registry: registry,
		logs:     logs,
		runner:   runner,
		views:    views,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartCrawlAccepted(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
		"user_id":   uuid.New().String(),
		"country":   "nz",
		"seed_urls": []string{"https://tower.co.nz"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	id, err := uuid.Parse(resp.SessionID)
	require.NoError(t, err)

	stored, err := env.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "nz", stored.Country)
	assert.Equal(t, 500, stored.MaxPages, "absent max_pages takes the ceiling")

	select {
	case sess := <-env.runner.executed:
		assert.Equal(t, id, sess.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("runner was never invoked")
	}
}

func TestStartCrawlClampsLimits(t *testing.T) {
	env := newTestEnv(t, 3)

	maxPages := 100000
	maxMinutes := 0
	rec := env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
		"seed_urls":   []string{"https://tower.co.nz"},
		"max_pages":   maxPages,
		"max_minutes": maxMinutes,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	sess := <-env.runner.executed
	assert.Equal(t, 500, sess.MaxPages)
	assert.Equal(t, 1, sess.MaxMinutes)
}

func TestStartCrawlRejectsMissingSeeds(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
		"country": "nz",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
		"seed_urls": []string{"https://tower.co.nz"},
		"user_id":   "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCrawlRejectsNonHTTPSeeds(t *testing.T) {
	env := newTestEnv(t, 3)

	for _, seeds := range [][]string{
		{"not-a-url"},
		{"ftp://example.com/x"},
		{"/relative/path.pdf"},
		{"https://tower.co.nz", "javascript:alert(1)"},
	} {
		rec := env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
			"seed_urls": seeds,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "seeds %v", seeds)
	}

	select {
	case sess := <-env.runner.executed:
		t.Fatalf("no session should run for rejected seeds, got %s", sess.ID)
	default:
	}
}

func TestStartCrawlAtCapacity(t *testing.T) {
	env := newTestEnv(t, 1)
	active := uuid.New()
	env.registry.Register(active)

	rec := env.do(t, http.MethodPost, "/v1/crawls", map[string]any{
		"seed_urls": []string{"https://tower.co.nz"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), active.String())
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, 3)

	sess := &crawler.CrawlSession{
		ID:           uuid.New(),
		Country:      "nz",
		Status:       crawler.SessionRunning,
		ProgressPct:  40,
		PagesScanned: 12,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateSession(context.Background(), sess))

	rec := env.do(t, http.MethodGet, "/v1/crawls/"+sess.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp["status"])
	assert.Equal(t, float64(40), resp["progress_pct"])
	assert.Equal(t, float64(12), resp["pages_scanned"])
	_, hasCompleted := resp["completed_at"]
	assert.False(t, hasCompleted, "running session has no completed_at")

	rec = env.do(t, http.MethodGet, "/v1/crawls/"+uuid.New().String()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/crawls/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatusCachesTerminalSessions(t *testing.T) {
	env := newTestEnv(t, 3)

	now := time.Now().UTC()
	sess := &crawler.CrawlSession{
		ID:          uuid.New(),
		Status:      crawler.SessionCompleted,
		ProgressPct: 100,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	require.NoError(t, env.store.CreateSession(context.Background(), sess))

	rec := env.do(t, http.MethodGet, "/v1/crawls/"+sess.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.views.Len())

	// A mutation behind the cache's back is not visible until invalidation;
	// terminal rows never mutate in practice.
	sess.ProgressPct = 5
	require.NoError(t, env.store.UpdateProgress(context.Background(), sess))

	rec = env.do(t, http.MethodGet, "/v1/crawls/"+sess.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(100), resp["progress_pct"])
}

func TestGetLogs(t *testing.T) {
	env := newTestEnv(t, 3)

	sess := &crawler.CrawlSession{
		ID:        uuid.New(),
		Status:    crawler.SessionRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateSession(context.Background(), sess))
	env.logs.Append(sess.ID, "info", "Crawl started")
	env.logs.Append(sess.ID, "info", "Crawling https://tower.co.nz")
	env.logs.Append(sess.ID, "warning", "Time limit reached during crawl phase")

	rec := env.do(t, http.MethodGet, "/v1/crawls/"+sess.ID.String()+"/logs?since=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Logs []crawler.LogEntry `json:"logs"`
		Next int                `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "Crawling https://tower.co.nz", resp.Logs[0].Message)
	assert.Equal(t, 3, resp.Next)

	rec = env.do(t, http.MethodGet, "/v1/crawls/"+sess.ID.String()+"/logs?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/crawls/"+uuid.New().String()+"/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, 3)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
