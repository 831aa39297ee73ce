// Package crawler implements the PDF ingestion pipeline: frontier traversal,
// robots compliance, streaming downloads, rule-based classification, and the
// session state machine that orchestrates them.
package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNoSeeds rejects session creation without any seed URLs.
var ErrNoSeeds = errors.New("at least one seed URL is required")

// SessionStatus tracks the crawl session lifecycle.
type SessionStatus string

// Session lifecycle states. A session becomes terminal exactly once and
// never transitions out of a terminal state.
const (
	SessionQueued    SessionStatus = "queued"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// DocumentStatus is the review-workflow state of a downloaded document.
type DocumentStatus string

// Document review states. The crawler only ever produces the first two;
// validated/rejected are set later by the review workflow.
const (
	DocAutoApproved DocumentStatus = "auto-approved"
	DocNeedsReview  DocumentStatus = "needs-review"
	DocValidated    DocumentStatus = "validated"
	DocRejected     DocumentStatus = "rejected"
)

// CrawlSession models one crawl request and its mutable progress counters.
// The orchestrator is the only writer while the session is running.
type CrawlSession struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Country        string
	MaxPages       int
	MaxMinutes     int
	SeedURLs       []string
	PolicyTypes    []string
	KeywordFilters []string

	Status         SessionStatus
	ProgressPct    int
	PagesScanned   int
	PDFsFound      int
	PDFsDownloaded int
	PDFsFiltered   int
	ErrorsCount    int
	ErrorMessage   string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Document is a downloaded, classified PDF. FileHash is the dedup key: at
// most one record whose hash matches should reference a file that still
// exists on disk.
type Document struct {
	ID             uuid.UUID
	CrawlSessionID *uuid.UUID
	SourceURL      string
	Insurer        string
	LocalFilePath  string
	FileSize       int64
	FileHash       string
	Country        string
	PolicyType     string
	Classification string
	Confidence     float64
	Status         DocumentStatus
	Warnings       []string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// SessionStore persists crawl sessions and their progress counters.
type SessionStore interface {
	CreateSession(ctx context.Context, s *CrawlSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*CrawlSession, error)
	// UpdateProgress writes the mutable progress fields of s.
	UpdateProgress(ctx context.Context, s *CrawlSession) error
	// MarkFailed is a best-effort terminal write that must not depend on
	// any connection state shared with the main session body.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// DocumentStore persists downloaded document records.
type DocumentStore interface {
	// FindByHash returns the record with the given content digest or
	// ErrNotFound.
	FindByHash(ctx context.Context, digest string) (*Document, error)
	InsertDocument(ctx context.Context, d *Document) error
	// RefreshDocument updates an existing record in place after a stale
	// file was re-downloaded.
	RefreshDocument(ctx context.Context, d *Document) error
}

// Invalidator signals that cached aggregate views are stale.
type Invalidator interface {
	InvalidatePrefix(prefix string)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Settings carries the environment-level knobs consumed by the pipeline
// components. All values originate from the config package.
type Settings struct {
	UserAgent        string
	Mode             string // "breadth" or "depth"
	RequestDelay     time.Duration
	MaxProbesPerPage int
	TrackingParams   []string

	MaxPagesAbsolute   int
	MaxMinutesAbsolute int
	MaxConcurrent      int
	RespectRobots      bool

	MaxFileBytes    int64
	ChunkBytes      int
	MaxDownloadTime time.Duration

	StorageRoot string

	HTTP HTTPClientConfig
}
