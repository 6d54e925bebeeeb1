// Package tiers is the disclosure controller: it enforces the three
// response tiers (Browse, Explore, Deep Context) and their payload
// bounds, independent of any rendering technology. Transitions are
// client-driven and idempotent; there is no automatic promotion.
package tiers

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/engine"
	"github.com/decisiontrace/lineage/internal/graph"
)

const (
	// TierBrowse returns at most browseLimit short cards.
	TierBrowse = 1
	// TierExplore returns a bounded neighborhood of one node.
	TierExplore = 2
	// TierDeep returns the full node, incident edges, and cognitive load.
	TierDeep = 3

	// summaryRunes caps card summaries in Browse/Explore payloads.
	summaryRunes = 140
)

// Config bounds the tiers.
type Config struct {
	BrowseLimit  int // Tier 1 card cap, default 3
	ExploreLimit int // Tier 2 per-hop cap, default 10
	Thresholds   graph.LoadThresholds
}

// DefaultConfig returns the contractual tier bounds.
func DefaultConfig() Config {
	return Config{
		BrowseLimit:  3,
		ExploreLimit: 10,
		Thresholds:   graph.DefaultLoadThresholds(),
	}
}

// Controller orchestrates the traversal engine into tiered responses.
type Controller struct {
	engine *engine.Engine
	log    *zap.Logger
	cfg    Config
}

func New(eng *engine.Engine, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.BrowseLimit <= 0 {
		cfg.BrowseLimit = d.BrowseLimit
	}
	if cfg.ExploreLimit <= 0 {
		cfg.ExploreLimit = d.ExploreLimit
	}
	if cfg.Thresholds == (graph.LoadThresholds{}) {
		cfg.Thresholds = d.Thresholds
	}
	return &Controller{engine: eng, log: log.Named("tiers"), cfg: cfg}
}

// DecisionCard is the short per-decision shape used by Browse and
// Explore payloads.
type DecisionCard struct {
	ID           int64    `json:"id"`
	Summary      string   `json:"summary"`
	Timestamp    int64    `json:"timestamp"`
	RelatedCount *int     `json:"related_count,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// BrowseResult is the Tier 1 payload. On engine failure it degrades to
// an explicit unavailable state instead of surfacing raw store errors.
type BrowseResult struct {
	Decisions   []DecisionCard `json:"decisions"`
	Count       int            `json:"count"`
	Tier        int            `json:"tier"`
	Unavailable bool           `json:"unavailable,omitempty"`
}

// ExploreResult is the Tier 2 payload.
type ExploreResult struct {
	Center         DecisionCard   `json:"center"`
	Hop1Neighbors  []DecisionCard `json:"hop_1_neighbors"`
	Hop2Neighbors  []DecisionCard `json:"hop_2_neighbors"`
	TotalNeighbors int            `json:"total_neighbors"`
	IsExpanded     bool           `json:"is_expanded"`
	Tier           int            `json:"tier"`
}

// DecisionSummary is the node-detail payload.
type DecisionSummary struct {
	ID            int64      `json:"id"`
	Summary       string     `json:"summary"`
	Tags          []string   `json:"tags,omitempty"`
	Timestamp     int64      `json:"timestamp"`
	RelatedCount  int        `json:"related_count"`
	CognitiveLoad graph.Load `json:"cognitive_load"`
	Deleted       bool       `json:"deleted,omitempty"`
}

// DirectedRelationship is an edge annotated with its direction relative
// to the requested center node. Direction is derived per query, never
// stored.
type DirectedRelationship struct {
	graph.Relationship
	Direction string `json:"direction"` // "incoming" or "outgoing"
}

// ContextResult is the Tier 3 payload.
type ContextResult struct {
	Decision            graph.Decision         `json:"decision"`
	DirectRelationships []DirectedRelationship `json:"direct_relationships"`
	RelatedDecisions    []DecisionCard         `json:"related_decisions"`
	TotalRelated        int                    `json:"total_related"`
	CognitiveLoad       graph.Load             `json:"cognitive_load"`
	Tier                int                    `json:"tier"`
}

// Browse is Tier 1: at most BrowseLimit recent decisions as short cards,
// no relationship data. Engine errors degrade to Unavailable.
func (c *Controller) Browse(ctx context.Context, limit int) BrowseResult {
	if limit <= 0 || limit > c.cfg.BrowseLimit {
		limit = c.cfg.BrowseLimit
	}

	decisions, err := c.engine.Recent(ctx, limit)
	if err != nil {
		c.log.Warn("browse degraded", zap.Error(err))
		return BrowseResult{Decisions: []DecisionCard{}, Tier: TierBrowse, Unavailable: true}
	}

	cards := make([]DecisionCard, 0, len(decisions))
	for _, d := range decisions {
		cards = append(cards, cardOf(d))
	}
	return BrowseResult{Decisions: cards, Count: len(cards), Tier: TierBrowse}
}

// Explore is Tier 2: the bounded neighborhood of one selected decision.
// An explicit "expand" re-invokes with maxHops=2, monotonically growing
// the payload already shown.
func (c *Controller) Explore(ctx context.Context, id int64, maxHops, limitPerHop int) (*ExploreResult, error) {
	if limitPerHop <= 0 || limitPerHop > c.cfg.ExploreLimit {
		limitPerHop = c.cfg.ExploreLimit
	}

	nb, err := c.engine.Neighborhood(ctx, id, maxHops, limitPerHop)
	if err != nil {
		return nil, err
	}

	return &ExploreResult{
		Center:         cardOf(nb.Center),
		Hop1Neighbors:  cardsOf(nb.Hop1),
		Hop2Neighbors:  cardsOf(nb.Hop2),
		TotalNeighbors: nb.TotalNeighbors(),
		IsExpanded:     nb.IsExpanded,
		Tier:           TierExplore,
	}, nil
}

// Summary is the node-detail view with the derived cognitive load.
func (c *Controller) Summary(ctx context.Context, id int64) (*DecisionSummary, error) {
	d, err := c.engine.Decision(ctx, id)
	if err != nil {
		return nil, err
	}
	edges, err := c.engine.IncidentEdges(ctx, id)
	if err != nil {
		return nil, err
	}
	nb, err := c.engine.Neighborhood(ctx, id, 1, c.cfg.ExploreLimit)
	if err != nil {
		return nil, err
	}

	return &DecisionSummary{
		ID:           d.ID,
		Summary:      d.Summary,
		Tags:         d.Tags,
		Timestamp:    d.CreatedAt,
		RelatedCount: len(edges),
		CognitiveLoad: graph.ClassifyLoad(
			nb.TotalNeighbors(), distinctTypes(edges),
			utf8.RuneCountInString(d.Rationale), c.cfg.Thresholds),
		Deleted: d.Deleted,
	}, nil
}

// DeepContext is Tier 3: the full decision, every incident edge in both
// directions with derived direction labels, the Tier-2 related-node set,
// and the computed cognitive load.
func (c *Controller) DeepContext(ctx context.Context, id int64) (*ContextResult, error) {
	d, err := c.engine.Decision(ctx, id)
	if err != nil {
		return nil, err
	}
	edges, err := c.engine.IncidentEdges(ctx, id)
	if err != nil {
		return nil, err
	}
	nb, err := c.engine.Neighborhood(ctx, id, 1, c.cfg.ExploreLimit)
	if err != nil {
		return nil, err
	}

	directed := make([]DirectedRelationship, 0, len(edges))
	for _, e := range edges {
		dir := "incoming"
		if e.SourceID == id {
			dir = "outgoing"
		}
		directed = append(directed, DirectedRelationship{Relationship: e, Direction: dir})
	}

	related := cardsOf(nb.Hop1)
	return &ContextResult{
		Decision:            *d,
		DirectRelationships: directed,
		RelatedDecisions:    related,
		TotalRelated:        len(related),
		CognitiveLoad: graph.ClassifyLoad(
			nb.TotalNeighbors(), distinctTypes(edges),
			utf8.RuneCountInString(d.Rationale), c.cfg.Thresholds),
		Tier: TierDeep,
	}, nil
}

func distinctTypes(edges []graph.Relationship) int {
	types := map[graph.RelationType]bool{}
	for _, e := range edges {
		types[e.Type] = true
	}
	return len(types)
}

func cardOf(d graph.Decision) DecisionCard {
	return DecisionCard{
		ID:        d.ID,
		Summary:   truncate(d.Summary, summaryRunes),
		Timestamp: d.CreatedAt,
		Tags:      d.Tags,
	}
}

func cardsOf(ds []graph.Decision) []DecisionCard {
	cards := make([]DecisionCard, 0, len(ds))
	for _, d := range ds {
		cards = append(cards, cardOf(d))
	}
	return cards
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
