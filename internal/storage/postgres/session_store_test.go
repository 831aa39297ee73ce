package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/insurdocs/policy-crawler/internal/crawler"
)

func newSessionFixture() *crawler.CrawlSession {
	return &crawler.CrawlSession{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Country:        "nz",
		MaxPages:       100,
		MaxMinutes:     30,
		SeedURLs:       []string{"https://tower.co.nz"},
		PolicyTypes:    []string{"Motor"},
		KeywordFilters: []string{"pds"},
		Status:         crawler.SessionQueued,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStore(mock)
	require.NoError(t, err)

	sess := newSessionFixture()
	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs(
			sess.ID, sess.UserID, sess.Country, sess.MaxPages, sess.MaxMinutes,
			sess.SeedURLs, sess.PolicyTypes, sess.KeywordFilters,
			string(sess.Status), sess.ProgressPct, sess.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateSession(context.Background(), sess))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStore(mock)
	require.NoError(t, err)

	sess := newSessionFixture()
	started := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "user_id", "country", "max_pages", "max_minutes",
		"seed_urls", "policy_types", "keyword_filters",
		"status", "progress_pct", "pages_scanned", "pdfs_found",
		"pdfs_downloaded", "pdfs_filtered", "errors_count",
		"error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		sess.ID, sess.UserID, sess.Country, sess.MaxPages, sess.MaxMinutes,
		sess.SeedURLs, sess.PolicyTypes, sess.KeywordFilters,
		"running", 40, 12, 3,
		1, 0, 0,
		"", sess.CreatedAt, &started, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_sessions").
		WithArgs(sess.ID).
		WillReturnRows(rows)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionRunning, got.Status)
	require.Equal(t, 40, got.ProgressPct)
	require.Equal(t, 12, got.PagesScanned)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
	require.Equal(t, sess.SeedURLs, got.SeedURLs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStore(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM crawl_sessions").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetSession(context.Background(), id)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStore(mock)
	require.NoError(t, err)

	sess := newSessionFixture()
	sess.Status = crawler.SessionRunning
	sess.ProgressPct = 50
	sess.PagesScanned = 20

	mock.ExpectExec("UPDATE crawl_sessions SET").
		WithArgs(
			sess.ID, string(sess.Status), sess.ProgressPct, sess.PagesScanned,
			sess.PDFsFound, sess.PDFsDownloaded, sess.PDFsFiltered,
			sess.ErrorsCount, sess.StartedAt, sess.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateProgress(context.Background(), sess))

	mock.ExpectExec("UPDATE crawl_sessions SET").
		WithArgs(
			sess.ID, string(sess.Status), sess.ProgressPct, sess.PagesScanned,
			sess.PDFsFound, sess.PDFsDownloaded, sess.PDFsFiltered,
			sess.ErrorsCount, sess.StartedAt, sess.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.UpdateProgress(context.Background(), sess), crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedSkipsTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStore(mock)
	require.NoError(t, err)

	id := uuid.New()
	// Zero rows affected means the session was already terminal; that is
	// not an error.
	mock.ExpectExec("UPDATE crawl_sessions SET status").
		WithArgs(id, "failed", "crawler panic", "completed", "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkFailed(context.Background(), id, "crawler panic"))
	require.NoError(t, mock.ExpectationsWereMet())
}
