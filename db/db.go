package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	sensor_index INTEGER NOT NULL,
	temperature INTEGER,
	fan_level TEXT,
	fan_rpm INTEGER,
	commanded BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);

CREATE TABLE IF NOT EXISTS daemon (
	id INTEGER PRIMARY KEY CHECK(id=1),
	running BOOLEAN NOT NULL DEFAULT FALSE,
	pid INTEGER,
	sensor_index INTEGER NOT NULL DEFAULT 0,
	started_at TEXT,
	last_temperature INTEGER,
	last_fan_level TEXT,
	fan_rpm INTEGER,
	last_error TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);
INSERT OR IGNORE INTO daemon (id, running) VALUES (1, FALSE);
`

// Open opens the SQLite store at path, creating the file and schema when
// missing. The path ":memory:" yields a fresh in-memory store, which the
// tests rely on.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("Database opened")
	return conn, nil
}
