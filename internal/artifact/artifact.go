// Package artifact is the SQLite-backed store of precompiled unit
// manifests: which files make up a unit, which scope each file parses
// into, and the exact historical source bytes captured when the
// artifact was baked. Sessions consult it to register files lazily and
// to materialize definitions without touching the live working tree.
package artifact

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one manifest entry: the dotted scope a file parses into and
// the file's path at bake time.
type Record struct {
	Scope string
	Path  string
}

// FileSource is one file handed to PutUnit: its manifest record plus
// the captured source bytes.
type FileSource struct {
	Scope  string
	Path   string
	Source []byte
}

// UnitRow summarizes one baked unit.
type UnitRow struct {
	Name    string
	UUID    string
	BakedAt time.Time
	Files   int
}

// Store is the SQLite data access layer for artifact databases.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the artifact tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS units (
  id         INTEGER PRIMARY KEY,
  name       TEXT NOT NULL UNIQUE,
  uuid       TEXT,
  baked_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS artifact_files (
  id         INTEGER PRIMARY KEY,
  unit_id    INTEGER NOT NULL REFERENCES units(id),
  scope      TEXT NOT NULL,
  path       TEXT NOT NULL,
  source     BLOB NOT NULL,
  hash       TEXT NOT NULL,
  UNIQUE(unit_id, path)
);

CREATE INDEX IF NOT EXISTS idx_artifact_files_unit ON artifact_files(unit_id);
`

// PutUnit transactionally replaces the baked manifest of a unit: the
// unit row is created or updated and its file set is rewritten from
// files in the given order.
func (s *Store) PutUnit(name, uuid string, files []FileSource) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var unitID int64
	err = tx.QueryRow("SELECT id FROM units WHERE name = ?", name).Scan(&unitID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(
			"INSERT INTO units (name, uuid, baked_at) VALUES (?, ?, ?)",
			name, uuid, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("insert unit: %w", err)
		}
		if unitID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query unit: %w", err)
	default:
		if _, err := tx.Exec(
			"UPDATE units SET uuid = ?, baked_at = ? WHERE id = ?",
			uuid, time.Now(), unitID,
		); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM artifact_files WHERE unit_id = ?", unitID); err != nil {
			return fmt.Errorf("delete stale files: %w", err)
		}
	}

	for _, f := range files {
		if _, err := tx.Exec(
			"INSERT INTO artifact_files (unit_id, scope, path, source, hash) VALUES (?, ?, ?, ?, ?)",
			unitID, f.Scope, f.Path, f.Source, hashBytes(f.Source),
		); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Manifest returns the manifest records for a unit in bake order, or
// nil when the unit was not baked. A non-empty uuid must match the
// baked uuid; a stale artifact counts as a miss, never an error.
func (s *Store) Manifest(name, uuid string) ([]Record, error) {
	var unitID int64
	var baked sql.NullString
	err := s.db.QueryRow("SELECT id, uuid FROM units WHERE name = ?", name).Scan(&unitID, &baked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query unit: %w", err)
	}
	if uuid != "" && baked.String != "" && baked.String != uuid {
		return nil, nil
	}

	rows, err := s.db.Query(
		"SELECT scope, path FROM artifact_files WHERE unit_id = ? ORDER BY id", unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Scope, &r.Path); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Source returns the historical source bytes of path as captured in
// unit's artifact, verifying the stored content hash.
func (s *Store) Source(unit, path string) ([]byte, error) {
	var src []byte
	var hash string
	err := s.db.QueryRow(
		`SELECT f.source, f.hash FROM artifact_files f
		 JOIN units u ON u.id = f.unit_id
		 WHERE u.name = ? AND f.path = ?`, unit, path,
	).Scan(&src, &hash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no baked source for %s in unit %s", path, unit)
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	if hashBytes(src) != hash {
		return nil, fmt.Errorf("baked source for %s in unit %s is corrupted", path, unit)
	}
	return src, nil
}

// Units summarizes every baked unit, sorted by name.
func (s *Store) Units() ([]UnitRow, error) {
	rows, err := s.db.Query(
		`SELECT u.name, COALESCE(u.uuid, ''), u.baked_at, COUNT(f.id)
		 FROM units u LEFT JOIN artifact_files f ON f.unit_id = u.id
		 GROUP BY u.id ORDER BY u.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()
	var units []UnitRow
	for rows.Next() {
		var u UnitRow
		if err := rows.Scan(&u.Name, &u.UUID, &u.BakedAt, &u.Files); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func hashBytes(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
