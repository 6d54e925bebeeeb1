// Package engine computes hop-limited, de-duplicated, deterministically
// ordered neighborhoods over the decision graph, reading through an
// injected cache and falling back to the store adapter.
package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/graph"
	"github.com/decisiontrace/lineage/internal/metrics"
	"github.com/decisiontrace/lineage/internal/store"
)

// rowFanout bounds how many raw (edge, node) rows one distinct neighbor
// can occupy: one row per relation type per direction. Fetching
// limit*rowFanout rows guarantees enough distinct nodes survive
// deduplication.
var rowFanout = 2 * len(graph.RelationTypes())

// Engine is the traversal engine. All reads go through the cache; all
// writes go to the store and bump the cache epoch.
type Engine struct {
	store   *store.DB
	cache   *Cache
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates an Engine. The cache is a required collaborator; metrics
// may be nil.
func New(st *store.DB, cache *Cache, log *zap.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:   st,
		cache:   cache,
		log:     log.Named("engine"),
		metrics: m,
	}
}

func (e *Engine) observeCache(hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.CacheHits.Inc()
	} else {
		e.metrics.CacheMisses.Inc()
	}
}

func (e *Engine) bump() {
	e.cache.Bump()
	if e.metrics != nil {
		e.metrics.Invalidations.Inc()
	}
}

// Decision returns a single decision, cached by ID.
func (e *Engine) Decision(ctx context.Context, id int64) (*graph.Decision, error) {
	v, hit, err := e.cache.Do("node:"+strconv.FormatInt(id, 10), func() (any, error) {
		return e.store.GetDecision(ctx, id)
	})
	e.observeCache(hit)
	if err != nil {
		return nil, err
	}
	return v.(*graph.Decision), nil
}

// IncidentEdges returns every edge touching the decision, cached.
func (e *Engine) IncidentEdges(ctx context.Context, id int64) ([]graph.Relationship, error) {
	v, hit, err := e.cache.Do("edges:"+strconv.FormatInt(id, 10), func() (any, error) {
		return e.store.IncidentEdges(ctx, id)
	})
	e.observeCache(hit)
	if err != nil {
		return nil, err
	}
	return v.([]graph.Relationship), nil
}

// Neighborhood computes the bounded neighborhood of a center decision.
// maxHops must be 1 or 2 and limitPerHop positive; both are rejected
// before any store access. Results are deterministic: ordered by
// (created_at descending, id descending), deduplicated by node ID, with
// hop 2 excluding the center and every hop-1 member.
func (e *Engine) Neighborhood(ctx context.Context, centerID int64, maxHops, limitPerHop int) (*graph.Neighborhood, error) {
	if maxHops != 1 && maxHops != 2 {
		return nil, graph.NewValidation("max_hops", "must be 1 or 2")
	}
	if limitPerHop <= 0 {
		return nil, graph.NewValidation("limit_per_hop", "must be positive")
	}

	key := fmt.Sprintf("neighborhood:%d:%d:%d", centerID, maxHops, limitPerHop)
	v, hit, err := e.cache.Do(key, func() (any, error) {
		return e.computeNeighborhood(ctx, centerID, maxHops, limitPerHop)
	})
	e.observeCache(hit)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.Traversals.WithLabelValues(strconv.Itoa(maxHops)).Inc()
	}
	return v.(*graph.Neighborhood), nil
}

func (e *Engine) computeNeighborhood(ctx context.Context, centerID int64, maxHops, limitPerHop int) (*graph.Neighborhood, error) {
	center, err := e.store.GetDecision(ctx, centerID)
	if err != nil {
		return nil, err
	}

	rowLimit := limitPerHop * rowFanout

	rows, err := e.store.Neighbors(ctx, centerID, nil, rowLimit)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{centerID: true}
	var hop1 []graph.Decision
	for _, n := range rows {
		if seen[n.Node.ID] {
			continue
		}
		seen[n.Node.ID] = true
		hop1 = append(hop1, n.Node)
		if len(hop1) == limitPerHop {
			break
		}
	}

	nb := &graph.Neighborhood{
		Center:     *center,
		Hop1:       hop1,
		IsExpanded: maxHops == 2,
	}
	if maxHops == 1 {
		return nb, nil
	}

	// Rows pointing back at the center or at hop-1 members still consume
	// the hop-2 fetch budget, so it is sized for the whole exclusion set.
	hop2RowLimit := (limitPerHop + len(hop1) + 1) * rowFanout

	var hop2 []graph.Decision
	for _, h := range hop1 {
		rows, err := e.store.Neighbors(ctx, h.ID, nil, hop2RowLimit)
		if err != nil {
			return nil, err
		}
		for _, n := range rows {
			if seen[n.Node.ID] {
				continue
			}
			seen[n.Node.ID] = true
			hop2 = append(hop2, n.Node)
		}
	}
	sort.Slice(hop2, func(i, j int) bool {
		if hop2[i].CreatedAt != hop2[j].CreatedAt {
			return hop2[i].CreatedAt > hop2[j].CreatedAt
		}
		return hop2[i].ID > hop2[j].ID
	})
	if len(hop2) > limitPerHop {
		hop2 = hop2[:limitPerHop]
	}
	nb.Hop2 = hop2
	return nb, nil
}

// Recent returns the most recent live decisions, cached per limit.
func (e *Engine) Recent(ctx context.Context, limit int) ([]graph.Decision, error) {
	v, hit, err := e.cache.Do("recent:"+strconv.Itoa(limit), func() (any, error) {
		return e.store.RecentDecisions(ctx, limit)
	})
	e.observeCache(hit)
	if err != nil {
		return nil, err
	}
	return v.([]graph.Decision), nil
}

// Search filters live decisions by tag and free text. Arbitrary query
// strings would pollute the cache, so this path always hits the store.
func (e *Engine) Search(ctx context.Context, tag, text string, limit int) ([]store.DecisionWithDegree, error) {
	return e.store.SearchDecisions(ctx, tag, text, limit)
}

// CreateDecision writes through the store adapter and invalidates the
// cache on success.
func (e *Engine) CreateDecision(ctx context.Context, d *graph.Decision) error {
	if err := e.store.InsertDecision(ctx, d); err != nil {
		return err
	}
	e.bump()
	return nil
}

// CreateRelationship writes through the store adapter and invalidates
// the cache on success.
func (e *Engine) CreateRelationship(ctx context.Context, r *graph.Relationship) error {
	if err := e.store.InsertRelationship(ctx, r); err != nil {
		return err
	}
	e.bump()
	return nil
}

// DeleteDecision tombstones a decision. Its edges stay queryable until
// an administrative prune.
func (e *Engine) DeleteDecision(ctx context.Context, id int64) error {
	if err := e.store.TombstoneDecision(ctx, id); err != nil {
		return err
	}
	e.bump()
	return nil
}

// Prune drops edges whose endpoints are tombstoned.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	n, err := e.store.PruneTombstoned(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bump()
	}
	return n, nil
}

// ExportSnapshot streams a consistent archive of the whole graph.
func (e *Engine) ExportSnapshot(ctx context.Context, w io.Writer) (store.Counts, error) {
	return e.store.ExportSnapshot(ctx, w)
}

// RestoreSnapshot replaces the graph from an archive and discards the
// entire cached view, which is garbage after a restore.
func (e *Engine) RestoreSnapshot(ctx context.Context, r io.Reader, replace bool) (store.Counts, error) {
	counts, err := e.store.ImportSnapshot(ctx, r, replace)
	if err != nil {
		return counts, err
	}
	e.cache.Purge()
	return counts, nil
}

// StoreReachable reports whether the underlying store answers queries.
func (e *Engine) StoreReachable(ctx context.Context) bool {
	return e.store.Reachable(ctx)
}
