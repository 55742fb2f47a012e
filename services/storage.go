package services

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Storage wraps the sqlite database holding persisted capture settings and
// the PTZ preset position cache.
type Storage struct {
	db *sql.DB
}

func NewStorage(dbPath string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent read/write performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS preset_positions (
    preset     INTEGER PRIMARY KEY,
    token      TEXT NOT NULL,
    name       TEXT NOT NULL,
    pan        REAL NOT NULL,
    tilt       REAL NOT NULL,
    zoom       REAL NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *Storage) DB() *sql.DB {
	return s.db
}

// SavePresetPosition upserts the cached camera position for a preset index.
func (s *Storage) SavePresetPosition(preset int, pos PresetPosition) error {
	_, err := s.db.Exec(`INSERT INTO preset_positions
		(preset, token, name, pan, tilt, zoom, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(preset) DO UPDATE SET
			token = excluded.token, name = excluded.name,
			pan = excluded.pan, tilt = excluded.tilt, zoom = excluded.zoom,
			updated_at = excluded.updated_at`,
		preset, pos.Token, pos.Name, pos.Pan, pos.Tilt, pos.Zoom)
	return err
}

// LoadPresetPositions returns all cached preset positions keyed by index.
func (s *Storage) LoadPresetPositions() (map[int]PresetPosition, error) {
	rows, err := s.db.Query("SELECT preset, token, name, pan, tilt, zoom FROM preset_positions")
	if err != nil {
		return nil, fmt.Errorf("querying preset positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[int]PresetPosition)
	for rows.Next() {
		var preset int
		var pos PresetPosition
		if err := rows.Scan(&preset, &pos.Token, &pos.Name, &pos.Pan, &pos.Tilt, &pos.Zoom); err != nil {
			return nil, fmt.Errorf("scanning preset position: %w", err)
		}
		positions[preset] = pos
	}
	return positions, rows.Err()
}

func (s *Storage) Close() error {
	return s.db.Close()
}
