// Package api exposes the HTTP interface for the policy crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insurdocs/policy-crawler/internal/cache"
	"github.com/insurdocs/policy-crawler/internal/crawler"
	"github.com/insurdocs/policy-crawler/internal/metrics"
)

// Runner executes a crawl session to its terminal state.
type Runner interface {
	Execute(ctx context.Context, sess *crawler.CrawlSession) error
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router   chi.Router
	sessions crawler.SessionStore
	registry *crawler.Registry
	logs     *crawler.LogBuffer
	runner   Runner
	views    *cache.Cache
	settings crawler.Settings
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sessions crawler.SessionStore,
	registry *crawler.Registry,
	logs *crawler.LogBuffer,
	runner Runner,
	views *cache.Cache,
	settings crawler.Settings,
	clock crawler.Clock,
	logger *zap.Logger,
) *Server {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		registry: registry,
		logs:     logs,
		runner:   runner,
		views:    views,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.startCrawl)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/status", s.getStatus)
				r.Get("/logs", s.getLogs)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startCrawlRequest struct {
	UserID         string   `json:"user_id"`
	Country        string   `json:"country"`
	SeedURLs       []string `json:"seed_urls"`
	MaxPages       *int     `json:"max_pages"`
	MaxMinutes     *int     `json:"max_minutes"`
	PolicyTypes    []string `json:"policy_types"`
	KeywordFilters []string `json:"keyword_filters"`
}

type startCrawlResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.SeedURLs) == 0 {
		writeError(w, http.StatusBadRequest, crawler.ErrNoSeeds.Error())
		return
	}
	for _, seed := range req.SeedURLs {
		parsed, perr := url.Parse(seed)
		if perr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("seed URL %q must be an absolute http(s) URL", seed))
			return
		}
	}
	userID := uuid.Nil
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = parsed
	}
	country := req.Country
	if country == "" {
		country = "nz"
	}

	if ok, reason := s.registry.CanStart(); !ok {
		writeError(w, http.StatusConflict, reason)
		return
	}

	sess := &crawler.CrawlSession{
		ID:             uuid.New(),
		UserID:         userID,
		Country:        country,
		MaxPages:       clamp(valueOrDefault(req.MaxPages, s.settings.MaxPagesAbsolute), 1, s.settings.MaxPagesAbsolute),
		MaxMinutes:     clamp(valueOrDefault(req.MaxMinutes, s.settings.MaxMinutesAbsolute), 1, s.settings.MaxMinutesAbsolute),
		SeedURLs:       req.SeedURLs,
		PolicyTypes:    req.PolicyTypes,
		KeywordFilters: req.KeywordFilters,
		Status:         crawler.SessionQueued,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.sessions.CreateSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	s.registry.Register(sess.ID)
	go func() {
		if err := s.runner.Execute(context.Background(), sess); err != nil {
			s.logger.Error("session execution failed",
				zap.String("session_id", sess.ID.String()), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, startCrawlResponse{
		SessionID: sess.ID.String(),
		Status:    string(crawler.SessionQueued),
	})
}

type statusResponse struct {
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	ProgressPct    int     `json:"progress_pct"`
	PagesScanned   int     `json:"pages_scanned"`
	PDFsFound      int     `json:"pdfs_found"`
	PDFsDownloaded int     `json:"pdfs_downloaded"`
	PDFsFiltered   int     `json:"pdfs_filtered"`
	ErrorsCount    int     `json:"errors_count"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      *string `json:"started_at,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	cacheKey := "sessions:" + id.String()
	if s.views != nil {
		if cached, ok := s.views.Get(cacheKey); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	sess, err := s.sessions.GetSession(r.Context(), id)
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	resp := statusResponse{
		SessionID:      sess.ID.String(),
		Status:         string(sess.Status),
		ProgressPct:    sess.ProgressPct,
		PagesScanned:   sess.PagesScanned,
		PDFsFound:      sess.PDFsFound,
		PDFsDownloaded: sess.PDFsDownloaded,
		PDFsFiltered:   sess.PDFsFiltered,
		ErrorsCount:    sess.ErrorsCount,
		ErrorMessage:   sess.ErrorMessage,
		CreatedAt:      sess.CreatedAt.Format(time.RFC3339),
		StartedAt:      formatTimePtr(sess.StartedAt),
		CompletedAt:    formatTimePtr(sess.CompletedAt),
	}
	// Only terminal sessions are cached; their rows never change again.
	if s.views != nil &&
		(sess.Status == crawler.SessionCompleted || sess.Status == crawler.SessionFailed) {
		s.views.Set(cacheKey, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

type logsResponse struct {
	Logs []crawler.LogEntry `json:"logs"`
	Next int                `json:"next"`
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if _, err := s.sessions.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}
	entries, next := s.logs.Since(id, since)
	if entries == nil {
		entries = []crawler.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: entries, Next: next})
}

func valueOrDefault(ptr *int, def int) int {
	if ptr == nil {
		return def
	}
	return *ptr
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
