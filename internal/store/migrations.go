package store

import (
	"database/sql"
	"errors"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// ErrSchemaTooNew is returned when the database was migrated by a newer
// build. The data is intact; this build just cannot read it.
var ErrSchemaTooNew = errors.New("database schema is newer than supported")

var migrations = []migration{
	{
		Version:     1,
		Description: "entries: weighted decaying insights",
		SQL: `
CREATE TABLE entries (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL CHECK (type IN ('perceptions', 'overrides', 'protections', 'self-observations', 'decisions', 'curiosities')),
    text            TEXT NOT NULL,
    strength        REAL NOT NULL CHECK (strength >= 0 AND strength <= 3.0),
    reinforcements  INTEGER NOT NULL DEFAULT 1,
    created         INTEGER NOT NULL,
    last_reinforced INTEGER NOT NULL,
    last_decayed    INTEGER,
    curiosity_stage TEXT CHECK (curiosity_stage IN ('born', 'active', 'evolving', 'resolved')),
    embedding       BLOB,
    position        INTEGER NOT NULL
);

CREATE INDEX idx_entries_type ON entries(type);
`,
	},
	{
		Version:     2,
		Description: "edges: undirected relations between entries",
		SQL: `
CREATE TABLE edges (
    source       TEXT NOT NULL,
    target       TEXT NOT NULL,
    weight       REAL NOT NULL,
    created      INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL,
    last_decayed INTEGER,
    position     INTEGER NOT NULL,
    PRIMARY KEY (source, target),
    CHECK (source < target),
    FOREIGN KEY (source) REFERENCES entries(id) ON DELETE CASCADE,
    FOREIGN KEY (target) REFERENCES entries(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "store_meta: container version",
		SQL: `
CREATE TABLE store_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
	},
}

func migrate(db *sql.DB) error {
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

	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if latest := migrations[len(migrations)-1].Version; current > latest {
		return fmt.Errorf("%w: schema version %d, this build knows %d", ErrSchemaTooNew, current, latest)
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

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
