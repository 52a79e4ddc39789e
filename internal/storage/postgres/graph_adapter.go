package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/graph"
)

const (
	queryLatestGraph = `
		SELECT id, scope, ref_id, version, node_count, edge_count, created_at
		FROM graphs
		WHERE scope = $1 AND ref_id = $2
		ORDER BY version DESC
		LIMIT 1
	`

	queryInsertGraph = `
		INSERT INTO graphs (scope, ref_id, version, node_count, edge_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	queryInsertGraphNode = `
		INSERT INTO graph_nodes (graph_id, node_id, type, label, weight)
		VALUES ($1, $2, $3, $4, $5)
	`

	queryInsertGraphEdge = `
		INSERT INTO graph_edges (graph_id, src_node_id, dst_node_id, type, weight)
		VALUES ($1, $2, $3, $4, $5)
	`

	queryGraphNeighbors = `
		SELECT e.dst_node_id, n.label, e.type, e.weight
		FROM graph_edges e
		JOIN graph_nodes n ON n.graph_id = e.graph_id AND n.node_id = e.dst_node_id
		WHERE e.graph_id = $1 AND e.src_node_id = $2
		ORDER BY e.weight DESC, e.dst_node_id ASC
		LIMIT $3
	`

	// Node and edge rows cascade via the graphs FK.
	queryPruneGraphVersions = `
		DELETE FROM graphs
		WHERE scope = $1 AND ref_id = $2
		  AND version <= (
			SELECT MAX(version) - $3 FROM graphs WHERE scope = $1 AND ref_id = $2
		  )
	`
)

// GraphAdapter implements graph.Store using PostgreSQL. A graph version and
// all its node/edge rows are written in one transaction so readers only ever
// see complete versions.
type GraphAdapter struct {
	db *sql.DB
}

// NewGraphAdapter creates a GraphAdapter sharing the given connection.
func NewGraphAdapter(db *sql.DB) *GraphAdapter {
	return &GraphAdapter{db: db}
}

// Latest returns the newest graph version for (scope, ref).
func (a *GraphAdapter) Latest(ctx context.Context, scope graph.Scope, refID int64) (graph.Graph, error) {
	var g graph.Graph
	err := a.db.QueryRowContext(ctx, queryLatestGraph, scope, refID).Scan(
		&g.ID, &g.Scope, &g.RefID, &g.Version, &g.NodeCount, &g.EdgeCount, &g.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return graph.Graph{}, coreerrors.ErrNotFound
	}
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to query latest graph for %s/%d: %w", scope, refID, err)
	}
	return g, nil
}

// Create persists a new graph version with its nodes and edges in one
// transaction. The unique constraint on (scope, ref_id, version) rejects a
// concurrent writer that raced this one to the same version.
func (a *GraphAdapter) Create(ctx context.Context, g graph.Graph, nodes []graph.Node, edges []graph.Edge) (graph.Graph, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to begin graph transaction: %w", err)
	}
	defer tx.Rollback()

	g.NodeCount = len(nodes)
	g.EdgeCount = len(edges)
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, queryInsertGraph,
		g.Scope, g.RefID, g.Version, g.NodeCount, g.EdgeCount, g.CreatedAt,
	).Scan(&g.ID)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to insert graph %s/%d v%d: %w", g.Scope, g.RefID, g.Version, err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, queryInsertGraphNode)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for _, n := range nodes {
		if _, err := nodeStmt.ExecContext(ctx, g.ID, n.NodeID, n.Type, n.Label, n.Weight); err != nil {
			return graph.Graph{}, fmt.Errorf("failed to insert node %q: %w", n.NodeID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, queryInsertGraphEdge)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, g.ID, e.SrcNodeID, e.DstNodeID, e.Type, e.Weight); err != nil {
			return graph.Graph{}, fmt.Errorf("failed to insert edge %q->%q: %w", e.SrcNodeID, e.DstNodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return graph.Graph{}, fmt.Errorf("failed to commit graph %s/%d v%d: %w", g.Scope, g.RefID, g.Version, err)
	}

	slog.Debug("[Postgres] Created graph version",
		"scope", g.Scope,
		"ref_id", g.RefID,
		"version", g.Version,
		"nodes", g.NodeCount,
		"edges", g.EdgeCount)
	return g, nil
}

// Neighbors returns nodes adjacent to nodeID within one graph version.
func (a *GraphAdapter) Neighbors(ctx context.Context, graphID int64, nodeID string, limit int) ([]graph.Neighbor, error) {
	rows, err := a.db.QueryContext(ctx, queryGraphNeighbors, graphID, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors of %q in graph %d: %w", nodeID, graphID, err)
	}
	defer rows.Close()

	var neighbors []graph.Neighbor
	for rows.Next() {
		var n graph.Neighbor
		if err := rows.Scan(&n.NodeID, &n.Label, &n.Type, &n.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor row: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating neighbors: %w", err)
	}
	return neighbors, nil
}

// PruneVersions deletes versions of (scope, ref) more than keep versions
// behind the latest.
func (a *GraphAdapter) PruneVersions(ctx context.Context, scope graph.Scope, refID int64, keep int) error {
	res, err := a.db.ExecContext(ctx, queryPruneGraphVersions, scope, refID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune graph versions for %s/%d: %w", scope, refID, err)
	}
	if pruned, err := res.RowsAffected(); err == nil && pruned > 0 {
		slog.Debug("[Postgres] Pruned graph versions",
			"scope", scope,
			"ref_id", refID,
			"pruned", pruned)
	}
	return nil
}
