// Package memory provides mutex-guarded in-memory implementations of the
// crawler stores, used in tests and when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/insurdocs/policy-crawler/internal/crawler"
)

// Store implements crawler.SessionStore and crawler.DocumentStore over maps.
// All returned records are copies; callers can mutate them freely.
type Store struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*crawler.CrawlSession
	documents map[uuid.UUID]*crawler.Document
	byHash    map[string]uuid.UUID
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[uuid.UUID]*crawler.CrawlSession),
		documents: make(map[uuid.UUID]*crawler.Document),
		byHash:    make(map[string]uuid.UUID),
	}
}

// CreateSession stores a new session. The ID must be unique.
func (s *Store) CreateSession(_ context.Context, sess *crawler.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession returns a copy of the session or crawler.ErrNotFound.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*crawler.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, crawler.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// UpdateProgress overwrites the stored session with the caller's copy.
func (s *Store) UpdateProgress(_ context.Context, sess *crawler.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return crawler.ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// MarkFailed sets the terminal failed state unless the session is already
// terminal.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if sess.Status == crawler.SessionCompleted || sess.Status == crawler.SessionFailed {
		return nil
	}
	sess.Status = crawler.SessionFailed
	sess.ErrorMessage = reason
	return nil
}

// FindByHash returns the document with the given content digest or
// crawler.ErrNotFound.
func (s *Store) FindByHash(_ context.Context, digest string) (*crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[digest]
	if !ok {
		return nil, crawler.ErrNotFound
	}
	cp := *s.documents[id]
	return &cp, nil
}

// InsertDocument stores a new document and indexes it by hash.
func (s *Store) InsertDocument(_ context.Context, d *crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[d.ID]; exists {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	cp := *d
	s.documents[d.ID] = &cp
	s.byHash[d.FileHash] = d.ID
	return nil
}

// RefreshDocument replaces an existing record after a stale file was
// re-downloaded.
func (s *Store) RefreshDocument(_ context.Context, d *crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[d.ID]; !ok {
		return crawler.ErrNotFound
	}
	cp := *d
	s.documents[d.ID] = &cp
	s.byHash[d.FileHash] = d.ID
	return nil
}

// DocumentCount reports stored documents, mostly for tests.
func (s *Store) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}
