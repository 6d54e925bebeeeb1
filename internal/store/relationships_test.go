package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/decisiontrace/lineage/internal/graph"
)

func mustLink(t *testing.T, db *DB, source, target int64, rt graph.RelationType) *graph.Relationship {
	t.Helper()
	r := &graph.Relationship{SourceID: source, TargetID: target, Type: rt}
	if err := db.InsertRelationship(context.Background(), r); err != nil {
		t.Fatalf("InsertRelationship(%d -[%s]-> %d): %v", source, rt, target, err)
	}
	return r
}

func TestInsertRelationship(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := mustInsertDecision(t, db, "a")
	b := mustInsertDecision(t, db, "b")

	r := &graph.Relationship{
		SourceID:    a.ID,
		TargetID:    b.ID,
		Type:        graph.RelImplements,
		Description: "a implements b",
	}
	if err := db.InsertRelationship(ctx, r); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}
	if r.ID == 0 {
		t.Error("expected non-zero relationship ID")
	}
	if r.CreatedAt == 0 {
		t.Error("expected CreatedAt to be set")
	}
}

func TestInsertRelationshipDuplicateTriple(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := mustInsertDecision(t, db, "a")
	b := mustInsertDecision(t, db, "b")
	mustLink(t, db, a.ID, b.ID, graph.RelImplements)

	// Exact triple again: conflict, and exactly one edge survives.
	dup := &graph.Relationship{SourceID: a.ID, TargetID: b.ID, Type: graph.RelImplements}
	if err := db.InsertRelationship(ctx, dup); !errors.Is(err, graph.ErrConflict) {
		t.Errorf("duplicate triple = %v, want ErrConflict", err)
	}
	n, err := db.CountRelationships(ctx)
	if err != nil {
		t.Fatalf("CountRelationships: %v", err)
	}
	if n != 1 {
		t.Errorf("edge count = %d, want 1", n)
	}

	// Same pair, different type: allowed.
	mustLink(t, db, a.ID, b.ID, graph.RelAffects)
	// Reversed direction: a distinct triple, allowed.
	mustLink(t, db, b.ID, a.ID, graph.RelImplements)
}

func TestInsertRelationshipValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := mustInsertDecision(t, db, "a")

	err := db.InsertRelationship(ctx, &graph.Relationship{
		SourceID: a.ID, TargetID: a.ID, Type: graph.RelAffects,
	})
	if !graph.IsValidation(err) {
		t.Errorf("self edge = %v, want validation error", err)
	}

	err = db.InsertRelationship(ctx, &graph.Relationship{
		SourceID: a.ID, TargetID: a.ID + 1, Type: "CAUSED",
	})
	if !graph.IsValidation(err) {
		t.Errorf("unknown type = %v, want validation error", err)
	}

	err = db.InsertRelationship(ctx, &graph.Relationship{
		SourceID: a.ID, TargetID: 99999, Type: graph.RelAffects,
	})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("missing endpoint = %v, want ErrNotFound", err)
	}
}

func TestNeighborsBothDirections(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	center := mustInsertDecision(t, db, "center")
	out := mustInsertDecision(t, db, "outgoing target")
	in := mustInsertDecision(t, db, "incoming source")

	mustLink(t, db, center.ID, out.ID, graph.RelImplements)
	mustLink(t, db, in.ID, center.ID, graph.RelDependsOn)

	rows, err := db.Neighbors(ctx, center.ID, nil, 10)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (both directions)", len(rows))
	}
	// Neighbor recency ordering: in was created after out.
	if rows[0].Node.ID != in.ID || rows[1].Node.ID != out.ID {
		t.Errorf("neighbor order = [%d %d], want [%d %d]",
			rows[0].Node.ID, rows[1].Node.ID, in.ID, out.ID)
	}
}

func TestNeighborsTypeFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	center := mustInsertDecision(t, db, "center")
	a := mustInsertDecision(t, db, "a")
	b := mustInsertDecision(t, db, "b")

	mustLink(t, db, center.ID, a.ID, graph.RelImplements)
	mustLink(t, db, center.ID, b.ID, graph.RelSupersedes)

	rows, err := db.Neighbors(ctx, center.ID, []graph.RelationType{graph.RelSupersedes}, 10)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(rows) != 1 || rows[0].Node.ID != b.ID {
		t.Fatalf("filtered neighbors = %v, want just node %d", rows, b.ID)
	}
}

func TestIncidentEdges(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	center := mustInsertDecision(t, db, "center")
	a := mustInsertDecision(t, db, "a")
	b := mustInsertDecision(t, db, "b")

	r1 := mustLink(t, db, center.ID, a.ID, graph.RelImplements)
	r2 := mustLink(t, db, b.ID, center.ID, graph.RelAffects)
	mustLink(t, db, a.ID, b.ID, graph.RelDependsOn) // not incident to center

	edges, err := db.IncidentEdges(ctx, center.ID)
	if err != nil {
		t.Fatalf("IncidentEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("len(edges) = %d, want 2", len(edges))
	}
	got := map[int64]bool{edges[0].ID: true, edges[1].ID: true}
	if !got[r1.ID] || !got[r2.ID] {
		t.Errorf("edges = %v, want IDs %d and %d", edges, r1.ID, r2.ID)
	}
}

func TestPruneTombstoned(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, mustInsertDecision(t, db, fmt.Sprintf("d%d", i)).ID)
	}
	mustLink(t, db, ids[0], ids[1], graph.RelImplements)
	mustLink(t, db, ids[1], ids[2], graph.RelAffects)
	mustLink(t, db, ids[2], ids[3], graph.RelDependsOn)

	if err := db.TombstoneDecision(ctx, ids[1]); err != nil {
		t.Fatalf("TombstoneDecision: %v", err)
	}

	// Edges touching the tombstone stay queryable until pruned.
	edges, err := db.IncidentEdges(ctx, ids[1])
	if err != nil {
		t.Fatalf("IncidentEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("pre-prune edges = %d, want 2", len(edges))
	}

	n, err := db.PruneTombstoned(ctx)
	if err != nil {
		t.Fatalf("PruneTombstoned: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}

	remaining, err := db.CountRelationships(ctx)
	if err != nil {
		t.Fatalf("CountRelationships: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining edges = %d, want 1", remaining)
	}
}
