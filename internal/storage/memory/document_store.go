package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

// DocumentStore is a map-backed knowledge.DocumentStore.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]knowledge.DocumentRecord
}

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]knowledge.DocumentRecord)}
}

// Get returns the record stored for url.
func (s *DocumentStore) Get(_ context.Context, url string) (knowledge.DocumentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[url]
	return rec, ok, nil
}

// Update merges partial onto the stored record.
func (s *DocumentStore) Update(_ context.Context, partial knowledge.DocumentRecord) error {
	if partial.URL == "" {
		return errors.New("update document: url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[partial.URL]
	if !ok {
		existing = knowledge.DocumentRecord{URL: partial.URL}
	}
	s.docs[partial.URL] = existing.Merge(partial)
	return nil
}

// Count returns the number of stored documents.
func (s *DocumentStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}
