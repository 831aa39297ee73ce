package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/insurdocs/policy-crawler/internal/crawler"
)

// DocumentStore persists downloaded documents in the documents table.
// file_hash carries a unique index so the dedup lookup is cheap.
type DocumentStore struct {
	pool pool
}

// NewDocumentStore wraps an existing pool.
func NewDocumentStore(p pool) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DocumentStore{pool: p}, nil
}

// FindByHash returns the document with the given content digest or
// crawler.ErrNotFound.
func (s *DocumentStore) FindByHash(ctx context.Context, digest string) (*crawler.Document, error) {
	query := `
SELECT id, crawl_session_id, source_url, insurer, local_file_path,
	file_size, file_hash, country, policy_type, classification,
	confidence, status, warnings, metadata, created_at
FROM documents WHERE file_hash = $1`
	var (
		doc          crawler.Document
		status       string
		metadataJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, digest).Scan(
		&doc.ID,
		&doc.CrawlSessionID,
		&doc.SourceURL,
		&doc.Insurer,
		&doc.LocalFilePath,
		&doc.FileSize,
		&doc.FileHash,
		&doc.Country,
		&doc.PolicyType,
		&doc.Classification,
		&doc.Confidence,
		&status,
		&doc.Warnings,
		&metadataJSON,
		&doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document by hash: %w", err)
	}
	doc.Status = crawler.DocumentStatus(status)
	if len(metadataJSON) > 0 {
		if uerr := json.Unmarshal(metadataJSON, &doc.Metadata); uerr != nil {
			return nil, fmt.Errorf("decode document metadata: %w", uerr)
		}
	}
	return &doc, nil
}

// InsertDocument inserts a new document row.
func (s *DocumentStore) InsertDocument(ctx context.Context, d *crawler.Document) error {
	metadataJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}
	query := `
INSERT INTO documents (
	id, crawl_session_id, source_url, insurer, local_file_path,
	file_size, file_hash, country, policy_type, classification,
	confidence, status, warnings, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = s.pool.Exec(ctx, query,
		d.ID,
		d.CrawlSessionID,
		d.SourceURL,
		d.Insurer,
		d.LocalFilePath,
		d.FileSize,
		d.FileHash,
		d.Country,
		d.PolicyType,
		d.Classification,
		d.Confidence,
		string(d.Status),
		d.Warnings,
		metadataJSON,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// RefreshDocument updates the file location fields of an existing row after
// a stale file was re-downloaded.
func (s *DocumentStore) RefreshDocument(ctx context.Context, d *crawler.Document) error {
	query := `
UPDATE documents SET source_url = $2, local_file_path = $3, file_size = $4,
	crawl_session_id = $5
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		d.ID,
		d.SourceURL,
		d.LocalFilePath,
		d.FileSize,
		d.CrawlSessionID,
	)
	if err != nil {
		return fmt.Errorf("refresh document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}
