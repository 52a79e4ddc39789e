package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/core/keylock"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	defaultLookback     = 7 * 24 * time.Hour
	defaultMaxNodes     = 200
	defaultMaxEdges     = 1000
	defaultKeepVersions = 3
	coOccurrenceFetch   = 500 // raw rows fetched before truncation
)

// Options bounds a builder's resource use.
type Options struct {
	Lookback     time.Duration
	MaxNodes     int
	MaxEdges     int
	KeepVersions int
}

func (o Options) normalized() Options {
	n := o
	if n.Lookback <= 0 {
		n.Lookback = defaultLookback
	}
	if n.MaxNodes <= 0 {
		n.MaxNodes = defaultMaxNodes
	}
	if n.MaxEdges <= 0 {
		n.MaxEdges = defaultMaxEdges
	}
	if n.KeepVersions <= 0 {
		n.KeepVersions = defaultKeepVersions
	}
	return n
}

// Builder derives versioned co-occurrence graphs from tag/article
// associations. Rebuilds for the same (scope, ref) are serialized; distinct
// keys rebuild concurrently.
type Builder struct {
	store   Store
	content storage.ContentStore
	opts    Options
	locks   *keylock.KeyedMutex
	now     func() time.Time
}

// NewBuilder creates a graph builder.
func NewBuilder(store Store, content storage.ContentStore, opts Options) *Builder {
	return &Builder{
		store:   store,
		content: content,
		opts:    opts.normalized(),
		locks:   keylock.New(),
		now:     time.Now,
	}
}

// Lookback returns the activity window the builder considers.
func (b *Builder) Lookback() time.Duration {
	return b.opts.Lookback
}

// Rebuild computes a fresh graph for (scope, ref) and persists it as version
// previous+1. A scope/ref with no qualifying content yields an empty graph —
// "no relationships" is a valid, cacheable result, not an error.
func (b *Builder) Rebuild(ctx context.Context, scope Scope, refID int64) (Graph, error) {
	if !ValidScope(string(scope)) {
		return Graph{}, fmt.Errorf("rebuild: unsupported scope %q", scope)
	}

	key := fmt.Sprintf("%s/%d", scope, refID)
	b.locks.Lock(key)
	defer b.locks.Unlock(key)

	nodes, edges, err := b.collect(ctx, scope, refID)
	if err != nil {
		return Graph{}, fmt.Errorf("rebuild %s/%d: %w", scope, refID, err)
	}

	version := 1
	if prev, err := b.store.Latest(ctx, scope, refID); err == nil {
		version = prev.Version + 1
	} else if err != coreerrors.ErrNotFound {
		return Graph{}, fmt.Errorf("rebuild %s/%d: read latest version: %w", scope, refID, err)
	}

	g := Graph{
		Scope:     scope,
		RefID:     refID,
		Version:   version,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
		CreatedAt: b.now().UTC(),
	}

	created, err := b.store.Create(ctx, g, nodes, edges)
	if err != nil {
		return Graph{}, fmt.Errorf("rebuild %s/%d: persist version %d: %w", scope, refID, version, err)
	}

	if err := b.store.PruneVersions(ctx, scope, refID, b.opts.KeepVersions); err != nil {
		// Pruning is housekeeping; the new version is already live.
		slog.Warn("[GraphBuilder] Version prune failed",
			"scope", scope, "ref_id", refID, "error", err)
	}

	slog.Info("[GraphBuilder] Rebuilt graph",
		"scope", scope,
		"ref_id", refID,
		"version", created.Version,
		"nodes", created.NodeCount,
		"edges", created.EdgeCount,
	)
	return created, nil
}

// collect gathers nodes and edges for one scope. Only the tag scope has a
// co-occurrence source wired today; the remaining scopes produce empty
// graphs until their collectors land.
func (b *Builder) collect(ctx context.Context, scope Scope, refID int64) ([]Node, []Edge, error) {
	if scope != ScopeTag {
		return nil, nil, nil
	}
	return b.collectTag(ctx, refID)
}

func (b *Builder) collectTag(ctx context.Context, tagID int64) ([]Node, []Edge, error) {
	root, err := b.content.TagByID(ctx, tagID)
	if err == coreerrors.ErrNotFound {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve tag %d: %w", tagID, err)
	}

	since := b.now().Add(-b.opts.Lookback)
	cos, err := b.content.CoOccurrences(ctx, tagID, since, coOccurrenceFetch)
	if err != nil {
		return nil, nil, fmt.Errorf("co-occurrences for tag %d: %w", tagID, err)
	}

	var rootArticles int64
	others := make([]storage.CoOccurrence, 0, len(cos))
	for _, c := range cos {
		if c.TagID == tagID {
			rootArticles = c.Occurrences
			continue
		}
		others = append(others, c)
	}

	if rootArticles == 0 {
		// No qualifying content in the lookback window.
		return nil, nil, nil
	}

	// Deterministic truncation: weight descending, then id ascending.
	sort.Slice(others, func(i, j int) bool {
		if others[i].Shared != others[j].Shared {
			return others[i].Shared > others[j].Shared
		}
		return others[i].TagID < others[j].TagID
	})
	if len(others) > b.opts.MaxNodes-1 {
		others = others[:b.opts.MaxNodes-1]
	}

	nodes := make([]Node, 0, len(others)+1)
	nodes = append(nodes, Node{
		NodeID: root.Slug,
		Type:   NodeTag,
		Label:  root.Display,
		Weight: float64(rootArticles),
	})
	present := map[string]bool{root.Slug: true}

	edges := make([]Edge, 0, 2*len(others))
	for _, c := range others {
		if present[c.Slug] {
			continue
		}
		present[c.Slug] = true
		nodes = append(nodes, Node{
			NodeID: c.Slug,
			Type:   NodeTag,
			Label:  c.Display,
			Weight: float64(c.Occurrences),
		})
		// Symmetric pair: one row per direction.
		edges = append(edges,
			Edge{SrcNodeID: root.Slug, DstNodeID: c.Slug, Type: EdgeCoOccurrence, Weight: float64(c.Shared)},
			Edge{SrcNodeID: c.Slug, DstNodeID: root.Slug, Type: EdgeCoOccurrence, Weight: float64(c.Shared)},
		)
	}

	nodes, edges = b.mergeCurated(ctx, tagID, root.Slug, nodes, edges, present)

	if len(edges) > b.opts.MaxEdges {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Weight != edges[j].Weight {
				return edges[i].Weight > edges[j].Weight
			}
			if edges[i].SrcNodeID != edges[j].SrcNodeID {
				return edges[i].SrcNodeID < edges[j].SrcNodeID
			}
			return edges[i].DstNodeID < edges[j].DstNodeID
		})
		edges = edges[:b.opts.MaxEdges]
	}

	return nodes, edges, nil
}

// mergeCurated folds editorial alias/parent relations into the graph:
// aliases become symmetric synonym pairs, the parent becomes a single
// directed hierarchy edge (child -> parent).
func (b *Builder) mergeCurated(ctx context.Context, tagID int64, rootSlug string, nodes []Node, edges []Edge, present map[string]bool) ([]Node, []Edge) {
	relations, err := b.content.CuratedRelations(ctx, tagID)
	if err != nil {
		// Curated edges are an enrichment; the co-occurrence core stands alone.
		slog.Warn("[GraphBuilder] Curated relations unavailable", "tag_id", tagID, "error", err)
		return nodes, edges
	}

	for _, rel := range relations {
		if rel.Slug == rootSlug {
			continue
		}
		if !present[rel.Slug] {
			present[rel.Slug] = true
			nodes = append(nodes, Node{
				NodeID: rel.Slug,
				Type:   NodeTag,
				Label:  rel.Display,
				Weight: 1,
			})
		}
		switch rel.Kind {
		case "synonym":
			edges = append(edges,
				Edge{SrcNodeID: rootSlug, DstNodeID: rel.Slug, Type: EdgeSynonym, Weight: 1},
				Edge{SrcNodeID: rel.Slug, DstNodeID: rootSlug, Type: EdgeSynonym, Weight: 1},
			)
		case "hierarchy":
			edges = append(edges, Edge{SrcNodeID: rootSlug, DstNodeID: rel.Slug, Type: EdgeHierarchy, Weight: 1})
		}
	}
	return nodes, edges
}
