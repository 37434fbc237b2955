package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBackend keeps the store in a SQLite database. Load and Save still
// move the whole store; Save replaces every row inside one transaction.
type SQLiteBackend struct {
	path string
}

// NewSQLite creates a SQLite backend for the database at path.
func NewSQLite(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

func (b *SQLiteBackend) Path() string { return b.path }

// open opens (or creates) the database, configures pragmas and runs
// migrations.
func (b *SQLiteBackend) open() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Load reads every entry and edge. A missing database is an empty store.
// Only a file SQLite itself reports as corrupt or not a database is
// ErrCorrupt; locks, permissions and newer schemas are returned as-is so
// LoadOrReset never moves a healthy database aside.
func (b *SQLiteBackend) Load() (*Store, error) {
	if _, err := os.Stat(b.path); errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}

	db, err := b.open()
	if err != nil {
		return nil, b.loadErr(err)
	}
	defer db.Close()

	st, err := loadRows(db)
	if err != nil {
		return nil, b.loadErr(err)
	}
	return st, nil
}

func (b *SQLiteBackend) loadErr(err error) error {
	if isCorrupt(err) {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, b.path, err)
	}
	return fmt.Errorf("load %s: %w", b.path, err)
}

// isCorrupt reports whether err carries SQLITE_CORRUPT or SQLITE_NOTADB.
// Extended result codes keep the primary code in the low byte.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

func loadRows(db *sql.DB) (*Store, error) {
	st := New()

	var version string
	err := db.QueryRow("SELECT value FROM store_meta WHERE key = 'version'").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		st.Version = CurrentVersion
	case err != nil:
		return nil, fmt.Errorf("read version: %w", err)
	default:
		v, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", version, err)
		}
		st.Version = v
	}

	rows, err := db.Query(`
		SELECT id, type, text, strength, reinforcements, created, last_reinforced,
			last_decayed, curiosity_stage, embedding
		FROM entries ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var created, reinforced int64
		var decayed sql.NullInt64
		var stage sql.NullString
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Text, &e.Strength, &e.Reinforcements,
			&created, &reinforced, &decayed, &stage, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Created = time.UnixMilli(created).UTC()
		e.LastReinforced = time.UnixMilli(reinforced).UTC()
		if decayed.Valid {
			e.LastDecayed = time.UnixMilli(decayed.Int64).UTC()
		}
		if stage.Valid {
			e.Curiosity = &Curiosity{Stage: Stage(stage.String)}
		}
		e.Embedding = decodeEmbedding(blob)
		st.Entries = append(st.Entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	edgeRows, err := db.Query(`
		SELECT source, target, weight, created, last_seen, last_decayed
		FROM edges ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e Edge
		var created, seen int64
		var decayed sql.NullInt64
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Weight, &created, &seen, &decayed); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Created = time.UnixMilli(created).UTC()
		e.LastSeen = time.UnixMilli(seen).UTC()
		if decayed.Valid {
			e.LastDecayed = time.UnixMilli(decayed.Int64).UTC()
		}
		st.Edges = append(st.Edges, &e)
	}
	return st, edgeRows.Err()
}

// Save replaces the database contents with st in a single transaction.
func (b *SQLiteBackend) Save(st *Store) error {
	db, err := b.open()
	if err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	if err := saveRows(tx, st); err != nil {
		tx.Rollback()
		return fmt.Errorf("save store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	st.Version = CurrentVersion
	return nil
}

func saveRows(tx *sql.Tx, st *Store) error {
	for _, stmt := range []string{"DELETE FROM edges", "DELETE FROM entries"} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	insertEntry, err := tx.Prepare(`
		INSERT INTO entries (id, type, text, strength, reinforcements, created, last_reinforced,
			last_decayed, curiosity_stage, embedding, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer insertEntry.Close()

	for i, e := range st.Entries {
		var stage any
		if e.Curiosity != nil {
			stage = string(e.Curiosity.Stage)
		}
		if _, err := insertEntry.Exec(e.ID, string(e.Type), e.Text, e.Strength, e.Reinforcements,
			e.Created.UnixMilli(), e.LastReinforced.UnixMilli(), nullableMillis(e.LastDecayed),
			stage, encodeEmbedding(e.Embedding), i); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	insertEdge, err := tx.Prepare(`
		INSERT INTO edges (source, target, weight, created, last_seen, last_decayed, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer insertEdge.Close()

	for i, e := range st.Edges {
		if _, err := insertEdge.Exec(e.Source, e.Target, e.Weight,
			e.Created.UnixMilli(), e.LastSeen.UnixMilli(), nullableMillis(e.LastDecayed), i); err != nil {
			return fmt.Errorf("insert edge %s-%s: %w", e.Source, e.Target, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO store_meta (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(CurrentVersion))
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

func nullableMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
