package database

import "time"

// IngestRun is one entry of the ingest run log.
type IngestRun struct {
	ID         string
	Kind       string
	Date       string
	Outcome    string
	RowCount   int
	Unresolved []string
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// DatasetStats summarises one stored dataset.
type DatasetStats struct {
	Rows       int
	Dates      int
	LatestDate string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Daily      DatasetStats
	Totals     DatasetStats
	IngestRuns int
}
