package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/decisiontrace/lineage/internal/graph"
)

// DecisionWithDegree is a decision annotated with its incident edge
// count, used by filtered browse responses.
type DecisionWithDegree struct {
	graph.Decision
	Degree int
}

// InsertDecision stores a new decision and assigns its ID. The summary is
// required. IDs come from AUTOINCREMENT, so they are unique and never
// reused even after a tombstone.
func (db *DB) InsertDecision(ctx context.Context, d *graph.Decision) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	if strings.TrimSpace(d.Summary) == "" {
		return graph.NewValidation("summary", "required")
	}

	tags, err := encodeTags(d.Tags)
	if err != nil {
		return graph.NewValidation("tags", err.Error())
	}
	now := time.Now().UnixMilli()

	return db.run(ctx, "insert decision", func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO decisions (summary, rationale, impl_notes, tags, created_at)
			VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		`, d.Summary, d.Rationale, d.ImplementationNotes, tags, now)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.ID = id
		d.CreatedAt = now
		d.Deleted = false
		return nil
	})
}

const decisionColumns = "id, summary, rationale, impl_notes, tags, deleted, created_at"

// GetDecision returns a decision by ID, tombstoned or not. Unknown IDs
// yield NotFound.
func (db *DB) GetDecision(ctx context.Context, id int64) (*graph.Decision, error) {
	var d graph.Decision
	err := db.run(ctx, "get decision", func(ctx context.Context) error {
		row := db.QueryRowContext(ctx,
			"SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id)
		return scanDecision(row, &d)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("decision %d: %w", id, graph.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

// RecentDecisions returns the most recent live decisions ordered by
// (created_at descending, id descending). Tombstones are excluded.
func (db *DB) RecentDecisions(ctx context.Context, limit int) ([]graph.Decision, error) {
	if limit <= 0 {
		return nil, graph.NewValidation("limit", "must be positive")
	}

	var out []graph.Decision
	err := db.run(ctx, "recent decisions", func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, `
			SELECT `+decisionColumns+` FROM decisions
			WHERE deleted = 0
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanDecisions(rows)
		return err
	})
	return out, err
}

// SearchDecisions filters live decisions by tag and/or free text over
// summary and rationale. Results carry their incident edge count and
// follow the recency ordering.
func (db *DB) SearchDecisions(ctx context.Context, tag, text string, limit int) ([]DecisionWithDegree, error) {
	if limit <= 0 {
		return nil, graph.NewValidation("limit", "must be positive")
	}

	where := []string{"d.deleted = 0"}
	args := []any{}
	if tag != "" {
		// Tags are stored as a JSON array of strings.
		where = append(where, "d.tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}
	if text != "" {
		where = append(where, "(d.summary LIKE ? OR d.rationale LIKE ?)")
		pat := "%" + text + "%"
		args = append(args, pat, pat)
	}
	args = append(args, limit)

	var out []DecisionWithDegree
	err := db.run(ctx, "search decisions", func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, `
			SELECT `+prefixColumns("d", decisionColumns)+`,
			       (SELECT COUNT(*) FROM relationships r
			        WHERE r.source_id = d.id OR r.target_id = d.id) AS degree
			FROM decisions d
			WHERE `+strings.Join(where, " AND ")+`
			ORDER BY d.created_at DESC, d.id DESC
			LIMIT ?
		`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var dd DecisionWithDegree
			var rationale, implNotes sql.NullString
			var tags string
			var deleted int
			if err := rows.Scan(&dd.ID, &dd.Summary, &rationale, &implNotes,
				&tags, &deleted, &dd.CreatedAt, &dd.Degree); err != nil {
				return fmt.Errorf("scan decision: %w", err)
			}
			dd.Rationale = rationale.String
			dd.ImplementationNotes = implNotes.String
			dd.Deleted = deleted != 0
			dd.Tags = decodeTags(tags)
			out = append(out, dd)
		}
		return rows.Err()
	})
	return out, err
}

// TombstoneDecision soft-deletes a decision. Hard delete is disallowed so
// historical edges keep valid endpoints. Deleting an already-tombstoned
// decision is a no-op; an unknown ID yields NotFound.
func (db *DB) TombstoneDecision(ctx context.Context, id int64) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.run(ctx, "tombstone decision", func(ctx context.Context) error {
		res, err := db.ExecContext(ctx,
			"UPDATE decisions SET deleted = 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("decision %d: %w", id, graph.ErrNotFound)
		}
		return nil
	})
}

// CountDecisions counts all decisions, tombstones included (snapshots
// carry the full history).
func (db *DB) CountDecisions(ctx context.Context) (int, error) {
	var n int
	err := db.run(ctx, "count decisions", func(ctx context.Context) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&n)
	})
	return n, err
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	// Insertion order is irrelevant; store sorted for stable output.
	cp := make([]string, len(tags))
	copy(cp, tags)
	sort.Strings(cp)
	b, err := json.Marshal(cp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// prefixColumns rewrites "a, b, c" into "p.a, p.b, p.c" for joins.
func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = prefix + "." + c
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner, d *graph.Decision) error {
	var rationale, implNotes sql.NullString
	var tags string
	var deleted int
	if err := row.Scan(&d.ID, &d.Summary, &rationale, &implNotes,
		&tags, &deleted, &d.CreatedAt); err != nil {
		return err
	}
	d.Rationale = rationale.String
	d.ImplementationNotes = implNotes.String
	d.Deleted = deleted != 0
	d.Tags = decodeTags(tags)
	return nil
}

func scanDecisions(rows *sql.Rows) ([]graph.Decision, error) {
	var out []graph.Decision
	for rows.Next() {
		var d graph.Decision
		if err := scanDecision(rows, &d); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
