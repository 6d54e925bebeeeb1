package tiers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/decisiontrace/lineage/internal/engine"
	"github.com/decisiontrace/lineage/internal/graph"
	"github.com/decisiontrace/lineage/internal/store"
)

func testController(t *testing.T) (*Controller, *engine.Engine, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory(nil)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	eng := engine.New(db, engine.NewCache(time.Minute), nil, nil)
	return New(eng, DefaultConfig(), nil), eng, db
}

func addDecision(t *testing.T, eng *engine.Engine, d *graph.Decision) int64 {
	t.Helper()
	if err := eng.CreateDecision(context.Background(), d); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	return d.ID
}

func link(t *testing.T, eng *engine.Engine, source, target int64, rt graph.RelationType) {
	t.Helper()
	err := eng.CreateRelationship(context.Background(), &graph.Relationship{
		SourceID: source, TargetID: target, Type: rt,
	})
	if err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}
}

func TestBrowseCapsAtThree(t *testing.T) {
	ctrl, eng, _ := testController(t)
	ctx := context.Background()

	var last int64
	for i := 1; i <= 5; i++ {
		last = addDecision(t, eng, &graph.Decision{Summary: fmt.Sprintf("d%d", i)})
	}

	// The Tier 1 cap holds even when the caller asks for more.
	for _, limit := range []int{0, 3, 100} {
		res := ctrl.Browse(ctx, limit)
		if res.Tier != TierBrowse {
			t.Errorf("tier = %d, want %d", res.Tier, TierBrowse)
		}
		if res.Count != 3 || len(res.Decisions) != 3 {
			t.Errorf("Browse(limit=%d) returned %d cards, want 3", limit, len(res.Decisions))
		}
	}

	res := ctrl.Browse(ctx, 1)
	if len(res.Decisions) != 1 || res.Decisions[0].ID != last {
		t.Errorf("Browse(1) = %v, want newest decision %d", res.Decisions, last)
	}
	if res.Decisions[0].RelatedCount != nil {
		t.Error("Tier 1 cards must not carry relationship data")
	}
}

func TestBrowseDegradesOnStoreFailure(t *testing.T) {
	ctrl, _, db := testController(t)

	db.Close()

	res := ctrl.Browse(context.Background(), 3)
	if !res.Unavailable {
		t.Error("expected degraded Browse result when the store is down")
	}
	if res.Decisions == nil || len(res.Decisions) != 0 {
		t.Errorf("degraded Browse decisions = %v, want empty non-nil slice", res.Decisions)
	}
}

func TestBrowseTruncatesSummaries(t *testing.T) {
	ctrl, eng, _ := testController(t)

	long := strings.Repeat("x", 200)
	addDecision(t, eng, &graph.Decision{Summary: long})

	res := ctrl.Browse(context.Background(), 1)
	if len(res.Decisions) != 1 {
		t.Fatalf("len = %d, want 1", len(res.Decisions))
	}
	card := res.Decisions[0]
	if len([]rune(card.Summary)) != summaryRunes {
		t.Errorf("card summary length = %d runes, want %d", len([]rune(card.Summary)), summaryRunes)
	}
	if !strings.HasSuffix(card.Summary, "…") {
		t.Error("truncated summary should end with an ellipsis")
	}
}

func TestExploreClampsLimit(t *testing.T) {
	ctrl, eng, _ := testController(t)
	ctx := context.Background()

	center := addDecision(t, eng, &graph.Decision{Summary: "center"})
	for i := 0; i < 15; i++ {
		n := addDecision(t, eng, &graph.Decision{Summary: fmt.Sprintf("n%d", i)})
		link(t, eng, center, n, graph.RelAffects)
	}

	res, err := ctrl.Explore(ctx, center, 1, 50)
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if len(res.Hop1Neighbors) != 10 {
		t.Errorf("hop1 = %d neighbors, want the Tier 2 cap of 10", len(res.Hop1Neighbors))
	}
	if res.Tier != TierExplore {
		t.Errorf("tier = %d, want %d", res.Tier, TierExplore)
	}
	if res.IsExpanded {
		t.Error("maxHops=1 should not be expanded")
	}
	if res.TotalNeighbors != 10 {
		t.Errorf("TotalNeighbors = %d, want 10", res.TotalNeighbors)
	}
}

func TestExploreExpandGrowsMonotonically(t *testing.T) {
	ctrl, eng, _ := testController(t)
	ctx := context.Background()

	center := addDecision(t, eng, &graph.Decision{Summary: "center"})
	mid := addDecision(t, eng, &graph.Decision{Summary: "mid"})
	far := addDecision(t, eng, &graph.Decision{Summary: "far"})
	link(t, eng, center, mid, graph.RelImplements)
	link(t, eng, mid, far, graph.RelImplements)

	one, err := ctrl.Explore(ctx, center, 1, 10)
	if err != nil {
		t.Fatalf("Explore(1): %v", err)
	}
	two, err := ctrl.Explore(ctx, center, 2, 10)
	if err != nil {
		t.Fatalf("Explore(2): %v", err)
	}

	if !two.IsExpanded {
		t.Error("expanded view should set IsExpanded")
	}
	// Everything shown at hop 1 is still there after expansion.
	hop1 := map[int64]bool{}
	for _, c := range two.Hop1Neighbors {
		hop1[c.ID] = true
	}
	for _, c := range one.Hop1Neighbors {
		if !hop1[c.ID] {
			t.Errorf("expansion dropped hop-1 node %d", c.ID)
		}
	}
	if len(two.Hop2Neighbors) != 1 || two.Hop2Neighbors[0].ID != far {
		t.Errorf("hop2 = %v, want just %d", two.Hop2Neighbors, far)
	}
}

func TestExploreUnknownCenter(t *testing.T) {
	ctrl, _, _ := testController(t)

	_, err := ctrl.Explore(context.Background(), 99999, 1, 10)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("Explore(unknown) = %v, want ErrNotFound", err)
	}
}

func TestSummaryCognitiveLoad(t *testing.T) {
	ctrl, eng, _ := testController(t)
	ctx := context.Background()

	isolated := addDecision(t, eng, &graph.Decision{Summary: "isolated"})
	busy := addDecision(t, eng, &graph.Decision{Summary: "busy"})
	for i := 0; i < 6; i++ {
		n := addDecision(t, eng, &graph.Decision{Summary: fmt.Sprintf("n%d", i)})
		link(t, eng, busy, n, graph.RelAffects)
	}

	s, err := ctrl.Summary(ctx, isolated)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.CognitiveLoad != graph.LoadLow {
		t.Errorf("isolated load = %s, want low", s.CognitiveLoad)
	}
	if s.RelatedCount != 0 {
		t.Errorf("isolated related = %d, want 0", s.RelatedCount)
	}

	s, err = ctrl.Summary(ctx, busy)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.CognitiveLoad != graph.LoadHigh {
		t.Errorf("busy load = %s, want high", s.CognitiveLoad)
	}
	if s.RelatedCount != 6 {
		t.Errorf("busy related = %d, want 6", s.RelatedCount)
	}
}

func TestDeepContextDirections(t *testing.T) {
	ctrl, eng, _ := testController(t)
	ctx := context.Background()

	center := addDecision(t, eng, &graph.Decision{
		Summary:   "center",
		Rationale: "kept in full at tier 3",
	})
	out := addDecision(t, eng, &graph.Decision{Summary: "out"})
	in := addDecision(t, eng, &graph.Decision{Summary: "in"})
	link(t, eng, center, out, graph.RelImplements)
	link(t, eng, in, center, graph.RelDependsOn)

	res, err := ctrl.DeepContext(ctx, center)
	if err != nil {
		t.Fatalf("DeepContext: %v", err)
	}
	if res.Tier != TierDeep {
		t.Errorf("tier = %d, want %d", res.Tier, TierDeep)
	}
	if res.Decision.Rationale != "kept in full at tier 3" {
		t.Error("tier 3 must return the full decision, rationale included")
	}
	if len(res.DirectRelationships) != 2 {
		t.Fatalf("relationships = %d, want 2", len(res.DirectRelationships))
	}
	for _, r := range res.DirectRelationships {
		switch r.TargetID {
		case out:
			if r.Direction != "outgoing" {
				t.Errorf("edge to %d direction = %s, want outgoing", out, r.Direction)
			}
		case center:
			if r.Direction != "incoming" {
				t.Errorf("edge from %d direction = %s, want incoming", in, r.Direction)
			}
		}
	}
	if res.TotalRelated != 2 {
		t.Errorf("TotalRelated = %d, want 2", res.TotalRelated)
	}
}

func TestDeepContextUnknown(t *testing.T) {
	ctrl, _, _ := testController(t)

	_, err := ctrl.DeepContext(context.Background(), 99999)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("DeepContext(unknown) = %v, want ErrNotFound", err)
	}
}
