package knowledge

import "strings"

const (
	// DefaultLabel is assigned to nodes that arrive without a label and to
	// edge endpoints the graph has not seen before.
	DefaultLabel = "Unknown"
	// DefaultRelation is assigned to edges that arrive without a relation.
	DefaultRelation = "RELATED_TO"
)

// Node is a graph vertex keyed by ID.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Edge is a graph relationship; (Source, Target, Relation) is its identity.
type Edge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// GraphFragment is the set of nodes and edges extracted from one document.
type GraphFragment struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Empty reports whether the fragment carries neither nodes nor edges.
func (f GraphFragment) Empty() bool {
	return len(f.Nodes) == 0 && len(f.Edges) == 0
}

// Normalize trims identifiers, drops nodes without an ID and edges without
// both endpoints, fills default labels and relations, and removes duplicates.
// For duplicate node IDs the last label wins; first-seen order is kept.
func (f GraphFragment) Normalize() GraphFragment {
	out := GraphFragment{
		Nodes: make([]Node, 0, len(f.Nodes)),
		Edges: make([]Edge, 0, len(f.Edges)),
	}
	index := make(map[string]int, len(f.Nodes))
	for _, n := range f.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			continue
		}
		label := strings.TrimSpace(n.Label)
		if label == "" {
			label = DefaultLabel
		}
		if i, ok := index[id]; ok {
			out.Nodes[i].Label = label
			continue
		}
		index[id] = len(out.Nodes)
		out.Nodes = append(out.Nodes, Node{ID: id, Label: label})
	}
	seen := make(map[Edge]struct{}, len(f.Edges))
	for _, e := range f.Edges {
		edge := Edge{
			Source:   strings.TrimSpace(e.Source),
			Target:   strings.TrimSpace(e.Target),
			Relation: strings.TrimSpace(e.Relation),
		}
		if edge.Source == "" || edge.Target == "" {
			continue
		}
		if edge.Relation == "" {
			edge.Relation = DefaultRelation
		}
		if _, ok := seen[edge]; ok {
			continue
		}
		seen[edge] = struct{}{}
		out.Edges = append(out.Edges, edge)
	}
	return out
}
