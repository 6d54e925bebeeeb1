package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/decisiontrace/lineage/internal/graph"
)

func mustInsertDecision(t *testing.T, db *DB, summary string) *graph.Decision {
	t.Helper()
	d := &graph.Decision{Summary: summary}
	if err := db.InsertDecision(context.Background(), d); err != nil {
		t.Fatalf("InsertDecision(%q): %v", summary, err)
	}
	return d
}

func TestInsertAndGetDecision(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	d := &graph.Decision{
		Summary:             "Adopt write-through cache invalidation",
		Rationale:           "Partial invalidation under-invalidated in testing.",
		ImplementationNotes: "Epoch counter bumped on every write.",
		Tags:                []string{"cache", "architecture"},
	}
	if err := db.InsertDecision(ctx, d); err != nil {
		t.Fatalf("InsertDecision: %v", err)
	}
	if d.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if d.CreatedAt == 0 {
		t.Error("expected CreatedAt to be set")
	}

	got, err := db.GetDecision(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if got.Summary != d.Summary {
		t.Errorf("summary = %q, want %q", got.Summary, d.Summary)
	}
	if got.Rationale != d.Rationale {
		t.Errorf("rationale = %q, want %q", got.Rationale, d.Rationale)
	}
	if !reflect.DeepEqual(got.Tags, []string{"architecture", "cache"}) {
		t.Errorf("tags = %v, want sorted [architecture cache]", got.Tags)
	}
	if got.Deleted {
		t.Error("fresh decision should not be deleted")
	}
}

func TestInsertDecisionRequiresSummary(t *testing.T) {
	db := testDB(t)

	err := db.InsertDecision(context.Background(), &graph.Decision{Summary: "   "})
	if !graph.IsValidation(err) {
		t.Errorf("InsertDecision with blank summary = %v, want validation error", err)
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetDecision(context.Background(), 99999)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("GetDecision(99999) = %v, want ErrNotFound", err)
	}
}

func TestRecentDecisionsOrderAndTombstones(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 1; i <= 5; i++ {
		d := mustInsertDecision(t, db, fmt.Sprintf("decision %d", i))
		ids = append(ids, d.ID)
	}

	recent, err := db.RecentDecisions(ctx, 3)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	// Most recent first; same-millisecond inserts break ties by ID.
	want := []int64{ids[4], ids[3], ids[2]}
	for i, d := range recent {
		if d.ID != want[i] {
			t.Errorf("recent[%d].ID = %d, want %d", i, d.ID, want[i])
		}
	}

	// A tombstoned decision disappears from browsing.
	if err := db.TombstoneDecision(ctx, ids[4]); err != nil {
		t.Fatalf("TombstoneDecision: %v", err)
	}
	recent, err = db.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	for _, d := range recent {
		if d.ID == ids[4] {
			t.Error("tombstoned decision still listed by RecentDecisions")
		}
	}

	// But stays addressable by ID.
	got, err := db.GetDecision(ctx, ids[4])
	if err != nil {
		t.Fatalf("GetDecision(tombstoned): %v", err)
	}
	if !got.Deleted {
		t.Error("expected Deleted flag on tombstoned decision")
	}
}

func TestRecentDecisionsRejectsBadLimit(t *testing.T) {
	db := testDB(t)

	if _, err := db.RecentDecisions(context.Background(), 0); !graph.IsValidation(err) {
		t.Errorf("RecentDecisions(0) = %v, want validation error", err)
	}
}

func TestTombstoneDecision(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	d := mustInsertDecision(t, db, "to delete")

	if err := db.TombstoneDecision(ctx, d.ID); err != nil {
		t.Fatalf("TombstoneDecision: %v", err)
	}
	// Idempotent: a second delete is a no-op, not an error.
	if err := db.TombstoneDecision(ctx, d.ID); err != nil {
		t.Errorf("second TombstoneDecision: %v", err)
	}
	if err := db.TombstoneDecision(ctx, 99999); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("TombstoneDecision(99999) = %v, want ErrNotFound", err)
	}
}

func TestIDsNeverReused(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	d1 := mustInsertDecision(t, db, "first")
	if err := db.TombstoneDecision(ctx, d1.ID); err != nil {
		t.Fatalf("TombstoneDecision: %v", err)
	}
	d2 := mustInsertDecision(t, db, "second")
	if d2.ID <= d1.ID {
		t.Errorf("new ID %d not greater than tombstoned ID %d", d2.ID, d1.ID)
	}
}

func TestSearchDecisions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &graph.Decision{Summary: "Use SQLite for persistence", Tags: []string{"storage"}}
	b := &graph.Decision{Summary: "Bound the connection pool", Rationale: "SQLite writers serialize anyway"}
	c := &graph.Decision{Summary: "Unrelated", Tags: []string{"process"}}
	for _, d := range []*graph.Decision{a, b, c} {
		if err := db.InsertDecision(ctx, d); err != nil {
			t.Fatalf("InsertDecision: %v", err)
		}
	}
	rel := &graph.Relationship{SourceID: b.ID, TargetID: a.ID, Type: graph.RelDependsOn}
	if err := db.InsertRelationship(ctx, rel); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}

	t.Run("by tag", func(t *testing.T) {
		got, err := db.SearchDecisions(ctx, "storage", "", 10)
		if err != nil {
			t.Fatalf("SearchDecisions: %v", err)
		}
		if len(got) != 1 || got[0].ID != a.ID {
			t.Fatalf("search by tag = %v, want just decision %d", got, a.ID)
		}
		if got[0].Degree != 1 {
			t.Errorf("degree = %d, want 1", got[0].Degree)
		}
	})

	t.Run("by text matches rationale", func(t *testing.T) {
		got, err := db.SearchDecisions(ctx, "", "SQLite", 10)
		if err != nil {
			t.Fatalf("SearchDecisions: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2 (summary and rationale matches)", len(got))
		}
	})

	t.Run("tag and text intersect", func(t *testing.T) {
		got, err := db.SearchDecisions(ctx, "storage", "SQLite", 10)
		if err != nil {
			t.Fatalf("SearchDecisions: %v", err)
		}
		if len(got) != 1 || got[0].ID != a.ID {
			t.Fatalf("intersection = %v, want just decision %d", got, a.ID)
		}
	})

	t.Run("excludes tombstones", func(t *testing.T) {
		if err := db.TombstoneDecision(ctx, a.ID); err != nil {
			t.Fatalf("TombstoneDecision: %v", err)
		}
		got, err := db.SearchDecisions(ctx, "storage", "", 10)
		if err != nil {
			t.Fatalf("SearchDecisions: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("tombstoned decision still searchable: %v", got)
		}
	})
}
