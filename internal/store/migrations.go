package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "decisions: project decision nodes",
		SQL: `
CREATE TABLE decisions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    summary    TEXT NOT NULL CHECK (length(summary) > 0),
    rationale  TEXT,
    impl_notes TEXT,
    tags       TEXT NOT NULL DEFAULT '[]',

    -- Soft delete only. Edges referencing a tombstoned decision stay
    -- queryable for historical context until an explicit prune.
    deleted    INTEGER NOT NULL DEFAULT 0,

    created_at INTEGER NOT NULL
);

CREATE INDEX idx_decisions_recent ON decisions(created_at DESC, id DESC);
CREATE INDEX idx_decisions_live   ON decisions(deleted, created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "relationships: typed directed edges between decisions",
		SQL: `
CREATE TABLE relationships (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id   INTEGER NOT NULL REFERENCES decisions(id),
    target_id   INTEGER NOT NULL REFERENCES decisions(id),
    type        TEXT NOT NULL,
    description TEXT,
    created_at  INTEGER NOT NULL,

    -- Directed multigraph: several types between a pair are fine, the
    -- same triple twice is a conflict.
    UNIQUE (source_id, target_id, type)
);

CREATE INDEX idx_rel_source ON relationships(source_id);
CREATE INDEX idx_rel_target ON relationships(target_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
