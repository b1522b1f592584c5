// Package memory implements an in-memory knowledge graph.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

// Store is a map-backed knowledge.Graph.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]string
	edges map[knowledge.Edge]struct{}
}

// New creates an empty graph.
func New() *Store {
	return &Store{
		nodes: make(map[string]string),
		edges: make(map[knowledge.Edge]struct{}),
	}
}

// Merge upserts the fragment's nodes and edges.
func (s *Store) Merge(_ context.Context, fragment knowledge.GraphFragment) error {
	fragment = fragment.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range fragment.Nodes {
		s.nodes[n.ID] = n.Label
	}
	for _, e := range fragment.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if _, ok := s.nodes[id]; !ok {
				s.nodes[id] = knowledge.DefaultLabel
			}
		}
		s.edges[e] = struct{}{}
	}
	return nil
}

// ListEntities returns nodes sorted by name, optionally filtered by label.
func (s *Store) ListEntities(_ context.Context, label string) ([]knowledge.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]knowledge.Entity, 0, len(s.nodes))
	for name, l := range s.nodes {
		if label != "" && l != label {
			continue
		}
		out = append(out, knowledge.Entity{Name: name, Label: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRelations returns the outgoing edges of name, optionally filtered by
// relation, sorted by relation then target.
func (s *Store) ListRelations(_ context.Context, name string, relation string) ([]knowledge.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []knowledge.Relation
	for e := range s.edges {
		if e.Source != name || (relation != "" && e.Relation != relation) {
			continue
		}
		out = append(out, knowledge.Relation{Source: e.Source, Relation: e.Relation, Target: e.Target})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

// Counts returns the number of nodes and edges.
func (s *Store) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}
