package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// InsertIngestRun records the outcome of a pipeline run.
func (db *DB) InsertIngestRun(ctx context.Context, run *IngestRun) error {
	var unresolved *string
	if len(run.Unresolved) > 0 {
		b, err := json.Marshal(run.Unresolved)
		if err != nil {
			return fmt.Errorf("encoding unresolved areas: %w", err)
		}
		s := string(b)
		unresolved = &s
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, kind, date, outcome, row_count, unresolved, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Date, run.Outcome, run.RowCount, unresolved, run.Message,
		run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting ingest run: %w", err)
	}
	return nil
}

// GetRecentRuns returns up to limit runs, newest first.
func (db *DB) GetRecentRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, kind, date, outcome, row_count, unresolved, message, started_at, finished_at
		FROM ingest_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var r IngestRun
		var unresolved, message sql.NullString
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Date, &r.Outcome, &r.RowCount,
			&unresolved, &message, &started, &finished); err != nil {
			return nil, err
		}
		r.Message = message.String
		if unresolved.Valid {
			if err := json.Unmarshal([]byte(unresolved.String), &r.Unresolved); err != nil {
				r.Unresolved = nil
			}
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	for kind, dest := range map[dataset.Kind]*DatasetStats{dataset.Daily: &s.Daily, dataset.Totals: &s.Totals} {
		var latest sql.NullString
		err := db.conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*), COUNT(DISTINCT date), MAX(date) FROM %s", kind.Table()),
		).Scan(&dest.Rows, &dest.Dates, &latest)
		if err != nil {
			return nil, fmt.Errorf("counting %s records: %w", kind, err)
		}
		dest.LatestDate = latest.String
	}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_runs").Scan(&s.IngestRuns); err != nil {
		return nil, fmt.Errorf("counting ingest runs: %w", err)
	}

	return s, nil
}
