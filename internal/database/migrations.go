package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "dataset tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS daily_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    area_type TEXT,
    area_code TEXT NOT NULL,
    area_name TEXT NOT NULL,
    cum_cases INTEGER NOT NULL DEFAULT 0,
    new_cases INTEGER NOT NULL DEFAULT 0,
    new_deaths INTEGER NOT NULL DEFAULT 0,
    cum_deaths INTEGER NOT NULL DEFAULT 0,
    latitude REAL,
    longitude REAL,
    UNIQUE (date, area_code)
);

CREATE TABLE IF NOT EXISTS total_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    area_type TEXT,
    area_code TEXT NOT NULL,
    area_name TEXT NOT NULL,
    cum_cases INTEGER NOT NULL DEFAULT 0,
    new_cases INTEGER NOT NULL DEFAULT 0,
    new_deaths INTEGER NOT NULL DEFAULT 0,
    cum_deaths INTEGER NOT NULL DEFAULT 0,
    UNIQUE (date, area_code)
);

CREATE INDEX IF NOT EXISTS idx_daily_records_date ON daily_records(date);
CREATE INDEX IF NOT EXISTS idx_daily_records_area ON daily_records(area_name);
CREATE INDEX IF NOT EXISTS idx_total_records_date ON total_records(date);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "ingest run log",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS ingest_runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    date TEXT NOT NULL,
    outcome TEXT NOT NULL,
    row_count INTEGER DEFAULT 0,
    unresolved TEXT,
    message TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
