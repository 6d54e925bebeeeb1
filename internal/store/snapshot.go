package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/decisiontrace/lineage/internal/graph"
)

// snapshotFormatVersion identifies the archive layout: one JSON header
// line, then every decision line, then every relationship line.
const snapshotFormatVersion = 1

// Counts reports how many rows a snapshot operation touched. Callers
// verify them against the source archive; a mismatch means the restored
// state must be discarded.
type Counts struct {
	Decisions     int `json:"decisions"`
	Relationships int `json:"relationships"`
}

type snapshotHeader struct {
	SnapshotID    string `json:"snapshot_id"`
	FormatVersion int    `json:"format_version"`
	CreatedAt     int64  `json:"created_at"`
	Counts        Counts `json:"counts"`
}

type snapshotLine struct {
	Kind         string              `json:"kind"` // "decision" or "relationship"
	Decision     *graph.Decision     `json:"decision,omitempty"`
	Relationship *graph.Relationship `json:"relationship,omitempty"`
}

// ExportSnapshot writes a transactionally consistent archive of all
// decisions and relationships, tombstones included. No edge in the
// archive can reference a decision absent from it: both tables are read
// inside one transaction.
func (db *DB) ExportSnapshot(ctx context.Context, w io.Writer) (Counts, error) {
	var counts Counts

	// Same pool discipline as regular reads: a saturated pool fails the
	// export after the acquire wait instead of queuing it indefinitely.
	release, err := db.acquire(ctx)
	if err != nil {
		return counts, err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return counts, classify("export snapshot", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&counts.Decisions); err != nil {
		return counts, classify("export snapshot", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&counts.Relationships); err != nil {
		return counts, classify("export snapshot", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	header := snapshotHeader{
		SnapshotID:    uuid.NewString(),
		FormatVersion: snapshotFormatVersion,
		CreatedAt:     time.Now().UnixMilli(),
		Counts:        counts,
	}
	if err := enc.Encode(header); err != nil {
		return counts, fmt.Errorf("write snapshot header: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+decisionColumns+" FROM decisions ORDER BY id")
	if err != nil {
		return counts, classify("export snapshot", err)
	}
	decisions, err := scanDecisions(rows)
	rows.Close()
	if err != nil {
		return counts, classify("export snapshot", err)
	}
	for i := range decisions {
		if err := enc.Encode(snapshotLine{Kind: "decision", Decision: &decisions[i]}); err != nil {
			return counts, fmt.Errorf("write decision %d: %w", decisions[i].ID, err)
		}
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, COALESCE(description, ''), created_at
		FROM relationships ORDER BY id
	`)
	if err != nil {
		return counts, classify("export snapshot", err)
	}
	for rows.Next() {
		var r graph.Relationship
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type,
			&r.Description, &r.CreatedAt); err != nil {
			rows.Close()
			return counts, fmt.Errorf("scan relationship: %w", err)
		}
		if err := enc.Encode(snapshotLine{Kind: "relationship", Relationship: &r}); err != nil {
			rows.Close()
			return counts, fmt.Errorf("write relationship %d: %w", r.ID, err)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return counts, classify("export snapshot", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return counts, classify("export snapshot", err)
	}
	return counts, bw.Flush()
}

// ImportSnapshot restores an archive produced by ExportSnapshot. The
// target must be empty unless replace is set. Decisions load before
// relationships; any edge whose endpoints are missing from the archive's
// own node set aborts the whole import with a validation error. While the
// import runs, regular writes are rejected; the load itself is a single
// transaction, so a failed import leaves the target untouched.
func (db *DB) ImportSnapshot(ctx context.Context, r io.Reader, replace bool) (Counts, error) {
	var counts Counts

	if !db.BeginImport() {
		return counts, fmt.Errorf("another import is running: %w", graph.ErrStoreUnavailable)
	}
	defer db.EndImport()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return counts, fmt.Errorf("read snapshot header: %w", err)
		}
		return counts, graph.NewValidation("snapshot", "empty archive")
	}
	var header snapshotHeader
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return counts, graph.NewValidation("snapshot", "malformed header: "+err.Error())
	}
	if header.FormatVersion != snapshotFormatVersion {
		return counts, graph.NewValidation("snapshot",
			fmt.Sprintf("unsupported format version %d", header.FormatVersion))
	}

	if !replace {
		existing, err := db.CountDecisions(ctx)
		if err != nil {
			return counts, err
		}
		if existing > 0 {
			return counts, graph.NewValidation("snapshot",
				"target database is not empty; pass replace to overwrite")
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return counts, classify("import snapshot", err)
	}
	defer tx.Rollback()

	if replace {
		for _, stmt := range []string{
			"DELETE FROM relationships",
			"DELETE FROM decisions",
			"DELETE FROM sqlite_sequence WHERE name IN ('decisions', 'relationships')",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return counts, classify("import snapshot", err)
			}
		}
	}

	loaded := make(map[int64]bool, header.Counts.Decisions)
	sawRelationship := false

	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var line snapshotLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return counts, graph.NewValidation("snapshot", "malformed line: "+err.Error())
		}

		switch line.Kind {
		case "decision":
			if sawRelationship {
				return counts, graph.NewValidation("snapshot",
					"decisions must precede relationships")
			}
			d := line.Decision
			if d == nil {
				return counts, graph.NewValidation("snapshot", "decision line without payload")
			}
			tags, err := encodeTags(d.Tags)
			if err != nil {
				return counts, graph.NewValidation("snapshot", "decision tags: "+err.Error())
			}
			deleted := 0
			if d.Deleted {
				deleted = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO decisions (id, summary, rationale, impl_notes, tags, deleted, created_at)
				VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
			`, d.ID, d.Summary, d.Rationale, d.ImplementationNotes, tags, deleted, d.CreatedAt); err != nil {
				return counts, classify("import snapshot", err)
			}
			loaded[d.ID] = true
			counts.Decisions++

		case "relationship":
			sawRelationship = true
			e := line.Relationship
			if e == nil {
				return counts, graph.NewValidation("snapshot", "relationship line without payload")
			}
			if !loaded[e.SourceID] || !loaded[e.TargetID] {
				return counts, graph.NewValidation("snapshot",
					fmt.Sprintf("edge %d -> %d references a decision missing from the archive",
						e.SourceID, e.TargetID))
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO relationships (id, source_id, target_id, type, description, created_at)
				VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
			`, e.ID, e.SourceID, e.TargetID, string(e.Type), e.Description, e.CreatedAt); err != nil {
				return counts, classify("import snapshot", err)
			}
			counts.Relationships++

		default:
			return counts, graph.NewValidation("snapshot",
				fmt.Sprintf("unknown line kind %q", line.Kind))
		}
	}
	if err := sc.Err(); err != nil {
		return counts, fmt.Errorf("read snapshot: %w", err)
	}

	if counts != header.Counts {
		return counts, fmt.Errorf(
			"restore count mismatch: archive declared %d/%d, loaded %d/%d: discard and retry from a known-good snapshot",
			header.Counts.Decisions, header.Counts.Relationships,
			counts.Decisions, counts.Relationships)
	}

	if err := tx.Commit(); err != nil {
		return counts, classify("import snapshot", err)
	}
	return counts, nil
}
