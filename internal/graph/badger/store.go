// Package badgergraph stores the knowledge graph in the pipeline's embedded
// BadgerDB instance.
//
// Nodes live under graph/node/<id> with the label as value. Edges live under
// graph/edge/<source>\x00<relation>\x00<target> with an empty value, so the
// outgoing edges of a node form one contiguous key range.
package badgergraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

const (
	nodePrefix       = "graph/node/"
	edgePrefix       = "graph/edge/"
	sep              = "\x00"
	maxMergeAttempts = 16
)

// Store is a knowledge.Graph backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// New builds a Store on an open database.
func New(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &Store{db: db}, nil
}

func nodeKey(id string) []byte {
	return []byte(nodePrefix + id)
}

func edgeKey(e knowledge.Edge) []byte {
	return []byte(edgePrefix + e.Source + sep + e.Relation + sep + e.Target)
}

func parseEdgeKey(key []byte) (knowledge.Relation, bool) {
	parts := bytes.Split(bytes.TrimPrefix(key, []byte(edgePrefix)), []byte(sep))
	if len(parts) != 3 {
		return knowledge.Relation{}, false
	}
	return knowledge.Relation{
		Source:   string(parts[0]),
		Relation: string(parts[1]),
		Target:   string(parts[2]),
	}, true
}

// Merge applies the fragment in a single transaction, retrying on conflict.
func (s *Store) Merge(ctx context.Context, fragment knowledge.GraphFragment) error {
	fragment = fragment.Normalize()
	if fragment.Empty() {
		return nil
	}
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("merge graph: %w", err)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return applyFragment(txn, fragment)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("merge graph: %w", err)
		}
		return nil
	}
	return fmt.Errorf("merge graph: %w", badger.ErrConflict)
}

func applyFragment(txn *badger.Txn, fragment knowledge.GraphFragment) error {
	written := make(map[string]struct{}, len(fragment.Nodes))
	for _, n := range fragment.Nodes {
		if err := txn.Set(nodeKey(n.ID), []byte(n.Label)); err != nil {
			return fmt.Errorf("set node %q: %w", n.ID, err)
		}
		written[n.ID] = struct{}{}
	}
	for _, e := range fragment.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if _, ok := written[id]; ok {
				continue
			}
			_, err := txn.Get(nodeKey(id))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				if err := txn.Set(nodeKey(id), []byte(knowledge.DefaultLabel)); err != nil {
					return fmt.Errorf("set node %q: %w", id, err)
				}
			case err != nil:
				return fmt.Errorf("get node %q: %w", id, err)
			}
			written[id] = struct{}{}
		}
		if err := txn.Set(edgeKey(e), nil); err != nil {
			return fmt.Errorf("set edge %s-%s->%s: %w", e.Source, e.Relation, e.Target, err)
		}
	}
	return nil
}

// ListEntities returns nodes sorted by name, optionally filtered by label.
func (s *Store) ListEntities(ctx context.Context, label string) ([]knowledge.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := []knowledge.Entity{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(nodePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if label != "" && string(val) != label {
				continue
			}
			name := string(bytes.TrimPrefix(item.Key(), []byte(nodePrefix)))
			out = append(out, knowledge.Entity{Name: name, Label: string(val)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// ListRelations returns the outgoing edges of name, optionally filtered by
// relation, sorted by relation then target.
func (s *Store) ListRelations(ctx context.Context, name string, relation string) ([]knowledge.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	prefix := edgePrefix + name + sep
	if relation != "" {
		prefix += relation + sep
	}
	var out []knowledge.Relation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rel, ok := parseEdgeKey(it.Item().Key())
			if !ok {
				continue
			}
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	// Keys already sort this way unless names contain the separator.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}
