package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/insurdocs/policy-crawler/internal/crawler"
)

// SessionStore persists crawl sessions in the crawl_sessions table.
type SessionStore struct {
	pool pool
}

// NewSessionStore wraps an existing pool. The pool may be shared with other
// stores; Close is a no-op here so ownership stays with the caller.
func NewSessionStore(p pool) (*SessionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: p}, nil
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, sess *crawler.CrawlSession) error {
	query := `
INSERT INTO crawl_sessions (
	id, user_id, country, max_pages, max_minutes,
	seed_urls, policy_types, keyword_filters,
	status, progress_pct, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.UserID,
		sess.Country,
		sess.MaxPages,
		sess.MaxMinutes,
		sess.SeedURLs,
		sess.PolicyTypes,
		sess.KeywordFilters,
		string(sess.Status),
		sess.ProgressPct,
		sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert crawl session: %w", err)
	}
	return nil
}

// GetSession loads one session row or crawler.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*crawler.CrawlSession, error) {
	query := `
SELECT id, user_id, country, max_pages, max_minutes,
	seed_urls, policy_types, keyword_filters,
	status, progress_pct, pages_scanned, pdfs_found,
	pdfs_downloaded, pdfs_filtered, errors_count,
	COALESCE(error_message, ''), created_at, started_at, completed_at
FROM crawl_sessions WHERE id = $1`
	var (
		sess   crawler.CrawlSession
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Country,
		&sess.MaxPages,
		&sess.MaxMinutes,
		&sess.SeedURLs,
		&sess.PolicyTypes,
		&sess.KeywordFilters,
		&status,
		&sess.ProgressPct,
		&sess.PagesScanned,
		&sess.PDFsFound,
		&sess.PDFsDownloaded,
		&sess.PDFsFiltered,
		&sess.ErrorsCount,
		&sess.ErrorMessage,
		&sess.CreatedAt,
		&sess.StartedAt,
		&sess.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select crawl session: %w", err)
	}
	sess.Status = crawler.SessionStatus(status)
	return &sess, nil
}

// UpdateProgress writes the mutable progress fields.
func (s *SessionStore) UpdateProgress(ctx context.Context, sess *crawler.CrawlSession) error {
	query := `
UPDATE crawl_sessions SET
	status = $2, progress_pct = $3, pages_scanned = $4,
	pdfs_found = $5, pdfs_downloaded = $6, pdfs_filtered = $7,
	errors_count = $8, started_at = $9, completed_at = $10
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		sess.ID,
		string(sess.Status),
		sess.ProgressPct,
		sess.PagesScanned,
		sess.PDFsFound,
		sess.PDFsDownloaded,
		sess.PDFsFiltered,
		sess.ErrorsCount,
		sess.StartedAt,
		sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update crawl session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// MarkFailed sets the terminal failed state. Already-terminal sessions are
// left untouched.
func (s *SessionStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
UPDATE crawl_sessions SET status = $2, error_message = $3, completed_at = NOW()
WHERE id = $1 AND status NOT IN ($4, $5)`
	_, err := s.pool.Exec(ctx, query,
		id,
		string(crawler.SessionFailed),
		reason,
		string(crawler.SessionCompleted),
		string(crawler.SessionFailed),
	)
	if err != nil {
		return fmt.Errorf("mark crawl session failed: %w", err)
	}
	return nil
}
