package graph

import (
	"context"
	"time"
)

// Scope is the dimension a relationship graph is computed over.
type Scope string

const (
	ScopePage    Scope = "page"
	ScopeTag     Scope = "tag"
	ScopeKeyword Scope = "keyword"
	ScopeWall    Scope = "wall"
	ScopeFeed    Scope = "feed"
)

// ValidScope reports whether s names a known graph scope.
func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopePage, ScopeTag, ScopeKeyword, ScopeWall, ScopeFeed:
		return true
	}
	return false
}

// NodeType is the semantic type of a graph node.
type NodeType string

const (
	NodeTag     NodeType = "tag"
	NodeKeyword NodeType = "keyword"
	NodeEntity  NodeType = "entity"
	NodeTopic   NodeType = "topic"
)

// EdgeType is the semantic relationship between two nodes.
type EdgeType string

const (
	EdgeRelated      EdgeType = "related"
	EdgeSynonym      EdgeType = "synonym"
	EdgeHierarchy    EdgeType = "hierarchy"
	EdgeCoOccurrence EdgeType = "co_occurrence"
)

// Graph is one immutable version of a relationship graph. A rebuild creates
// version previous+1; node and edge rows belong to exactly one version and
// are never shared or mutated.
type Graph struct {
	ID        int64     `json:"id"`
	Scope     Scope     `json:"scope"`
	RefID     int64     `json:"ref_id"`
	Version   int       `json:"version"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Node identity is scoped to its owning graph: (graph_id, node_id). NodeID is
// a string key (tag slug), never a row id, so rebuilds are cheap and no
// cross-version reference can dangle.
type Node struct {
	NodeID string   `json:"node_id"`
	Type   NodeType `json:"type"`
	Label  string   `json:"label"`
	Weight float64  `json:"weight"`
}

// Edge is directed. Symmetric relationships (co-occurrence, synonym) are
// stored as two rows, one per direction, so the related-tags read path is a
// single src-side lookup.
type Edge struct {
	SrcNodeID string   `json:"src_node_id"`
	DstNodeID string   `json:"dst_node_id"`
	Type      EdgeType `json:"type"`
	Weight    float64  `json:"weight"`
}

// Neighbor is one adjacent node with the connecting edge's weight, as served
// by the related-tags query.
type Neighbor struct {
	NodeID string   `json:"node_id"`
	Label  string   `json:"label"`
	Type   EdgeType `json:"type"`
	Weight float64  `json:"weight"`
}

// Store persists graph versions.
type Store interface {
	// Latest returns the newest graph version for (scope, ref).
	// coreerrors.ErrNotFound when none has been built yet.
	Latest(ctx context.Context, scope Scope, refID int64) (Graph, error)

	// Create persists a new graph with its nodes and edges in one
	// transaction and returns it with ID and CreatedAt populated. The
	// version must be Latest().Version+1; the adapter enforces uniqueness
	// of (scope, ref_id, version).
	Create(ctx context.Context, g Graph, nodes []Node, edges []Edge) (Graph, error)

	// Neighbors returns nodes adjacent to nodeID within one graph version,
	// ordered by edge weight descending then dst node id ascending.
	Neighbors(ctx context.Context, graphID int64, nodeID string, limit int) ([]Neighbor, error)

	// PruneVersions deletes versions of (scope, ref) older than keep
	// versions behind the latest. Old versions are retained for audit;
	// this bounds their number.
	PruneVersions(ctx context.Context, scope Scope, refID int64, keep int) error
}
