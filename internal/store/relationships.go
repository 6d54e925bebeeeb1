package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/decisiontrace/lineage/internal/graph"
)

// InsertRelationship stores a typed, directed edge between two existing
// decisions. A duplicate (source, target, type) triple yields Conflict;
// the store's unique index is the compare-and-insert constraint, so
// concurrent duplicate writes collapse to exactly one edge.
func (db *DB) InsertRelationship(ctx context.Context, r *graph.Relationship) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return graph.NewValidation("type", fmt.Sprintf("unknown relation type %q", r.Type))
	}
	if r.SourceID == r.TargetID {
		return graph.NewValidation("target_id", "self-referencing edges are not allowed")
	}

	now := time.Now().UnixMilli()
	return db.run(ctx, "insert relationship", func(ctx context.Context) error {
		// Both endpoints must exist; tombstoned decisions still count,
		// their history stays linkable.
		var present int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM decisions WHERE id IN (?, ?)",
			r.SourceID, r.TargetID).Scan(&present)
		if err != nil {
			return err
		}
		if present != 2 {
			return fmt.Errorf("edge endpoints %d -> %d: %w", r.SourceID, r.TargetID, graph.ErrNotFound)
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO relationships (source_id, target_id, type, description, created_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?)
		`, r.SourceID, r.TargetID, string(r.Type), r.Description, now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("edge %d -[%s]-> %d already exists: %w",
					r.SourceID, r.Type, r.TargetID, graph.ErrConflict)
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = id
		r.CreatedAt = now
		return nil
	})
}

// Neighbors returns up to limit (edge, node) pairs incident to the given
// decision, in both directions, optionally filtered by relation type.
// Rows are ordered by neighbor recency (created_at descending, id
// descending); deduplication by node is the traversal engine's job. A
// pair of nodes can contribute one row per type and direction.
func (db *DB) Neighbors(ctx context.Context, id int64, types []graph.RelationType, limit int) ([]graph.Neighbor, error) {
	if limit <= 0 {
		return nil, graph.NewValidation("limit", "must be positive")
	}

	typeFilter := ""
	args := []any{id, id, id}
	if len(types) > 0 {
		ph := make([]string, len(types))
		for i, t := range types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		typeFilter = " AND r.type IN (" + strings.Join(ph, ",") + ")"
	}
	args = append(args, limit)

	var out []graph.Neighbor
	err := db.run(ctx, "neighbors", func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, `
			SELECT r.id, r.source_id, r.target_id, r.type, COALESCE(r.description, ''), r.created_at,
			       `+prefixColumns("d", decisionColumns)+`
			FROM relationships r
			JOIN decisions d
			  ON d.id = CASE WHEN r.source_id = ? THEN r.target_id ELSE r.source_id END
			WHERE (r.source_id = ? OR r.target_id = ?)`+typeFilter+`
			ORDER BY d.created_at DESC, d.id DESC, r.id DESC
			LIMIT ?
		`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var n graph.Neighbor
			var rationale, implNotes sql.NullString
			var tags string
			var deleted int
			if err := rows.Scan(
				&n.Edge.ID, &n.Edge.SourceID, &n.Edge.TargetID, &n.Edge.Type,
				&n.Edge.Description, &n.Edge.CreatedAt,
				&n.Node.ID, &n.Node.Summary, &rationale, &implNotes,
				&tags, &deleted, &n.Node.CreatedAt,
			); err != nil {
				return fmt.Errorf("scan neighbor: %w", err)
			}
			n.Node.Rationale = rationale.String
			n.Node.ImplementationNotes = implNotes.String
			n.Node.Deleted = deleted != 0
			n.Node.Tags = decodeTags(tags)
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// IncidentEdges returns every edge touching the decision, both
// directions, newest first.
func (db *DB) IncidentEdges(ctx context.Context, id int64) ([]graph.Relationship, error) {
	var out []graph.Relationship
	err := db.run(ctx, "incident edges", func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, source_id, target_id, type, COALESCE(description, ''), created_at
			FROM relationships
			WHERE source_id = ? OR target_id = ?
			ORDER BY created_at DESC, id DESC
		`, id, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var r graph.Relationship
			if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type,
				&r.Description, &r.CreatedAt); err != nil {
				return fmt.Errorf("scan relationship: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// CountRelationships counts all edges.
func (db *DB) CountRelationships(ctx context.Context) (int, error) {
	var n int
	err := db.run(ctx, "count relationships", func(ctx context.Context) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&n)
	})
	return n, err
}

// PruneTombstoned is the administrative operation that drops edges whose
// source or target has been tombstoned. Until it runs, those edges stay
// queryable for historical context.
func (db *DB) PruneTombstoned(ctx context.Context) (int64, error) {
	if err := db.checkWritable(); err != nil {
		return 0, err
	}
	var pruned int64
	err := db.run(ctx, "prune tombstoned", func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, `
			DELETE FROM relationships
			WHERE source_id IN (SELECT id FROM decisions WHERE deleted = 1)
			   OR target_id IN (SELECT id FROM decisions WHERE deleted = 1)
		`)
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	})
	return pruned, err
}
