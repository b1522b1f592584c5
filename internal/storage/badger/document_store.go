package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

const (
	documentPrefix    = "doc/"
	maxUpdateAttempts = 16
)

// DocumentStore keeps one JSON-encoded DocumentRecord per URL.
type DocumentStore struct {
	db *badger.DB
}

// NewDocumentStore builds a DocumentStore on an open database.
func NewDocumentStore(db *badger.DB) (*DocumentStore, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &DocumentStore{db: db}, nil
}

func documentKey(url string) []byte {
	return []byte(documentPrefix + url)
}

// Get returns the record stored for url, if any.
func (s *DocumentStore) Get(ctx context.Context, url string) (knowledge.DocumentRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return knowledge.DocumentRecord{}, false, fmt.Errorf("get document: %w", err)
	}
	var (
		rec   knowledge.DocumentRecord
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = readDocument(txn, url)
		return err
	})
	if err != nil {
		return knowledge.DocumentRecord{}, false, fmt.Errorf("get document: %w", err)
	}
	return rec, found, nil
}

// Update merges partial onto the stored record inside one transaction,
// creating the record when absent. Conflicting writers are retried.
func (s *DocumentStore) Update(ctx context.Context, partial knowledge.DocumentRecord) error {
	if partial.URL == "" {
		return errors.New("update document: url is required")
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			existing, _, err := readDocument(txn, partial.URL)
			if err != nil {
				return err
			}
			merged := existing.Merge(partial)
			data, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("marshal document: %w", err)
			}
			return txn.Set(documentKey(partial.URL), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update document: %w", badger.ErrConflict)
}

// Count returns the number of stored documents.
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(documentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func readDocument(txn *badger.Txn, url string) (knowledge.DocumentRecord, bool, error) {
	item, err := txn.Get(documentKey(url))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return knowledge.DocumentRecord{URL: url}, false, nil
	}
	if err != nil {
		return knowledge.DocumentRecord{}, false, fmt.Errorf("read document: %w", err)
	}
	var rec knowledge.DocumentRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return knowledge.DocumentRecord{}, false, fmt.Errorf("decode document: %w", err)
	}
	return rec, true, nil
}
