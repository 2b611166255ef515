package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

var recordColumns = []string{
	"date", "area_type", "area_code", "area_name",
	"cum_cases", "new_cases", "new_deaths", "cum_deaths",
}

func columnsFor(kind dataset.Kind) []string {
	cols := append([]string(nil), recordColumns...)
	if kind.Geocoded() {
		cols = append(cols, "latitude", "longitude")
	}
	return cols
}

// LoadRecords returns every row of the dataset in append order.
func (db *DB) LoadRecords(ctx context.Context, kind dataset.Kind) ([]dataset.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("loading records: %w: %d", dataset.ErrUnknownKind, int(kind))
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
		strings.Join(columnsFor(kind), ", "), kind.Table())
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading %s records: %w", kind, err)
	}
	defer rows.Close()

	var records []dataset.Record
	for rows.Next() {
		var r dataset.Record
		var areaType sql.NullString
		dest := []any{&r.Date, &areaType, &r.AreaCode, &r.AreaName,
			&r.CumulativeCases, &r.NewCases, &r.NewDeaths, &r.CumulativeDeaths}
		if kind.Geocoded() {
			dest = append(dest, &r.Latitude, &r.Longitude)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s record: %w", kind, err)
		}
		r.AreaType = areaType.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// AppendRecords writes rows after the existing ones in a single transaction.
// Either every row is committed or, on error, none is.
func (db *DB) AppendRecords(ctx context.Context, kind dataset.Kind, rows []dataset.Record) error {
	if !kind.Valid() {
		return fmt.Errorf("appending records: %w: %d", dataset.ErrUnknownKind, int(kind))
	}
	if len(rows) == 0 {
		return nil
	}

	cols := columnsFor(kind)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", kind.Table(),
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		args := []any{r.Date, r.AreaType, r.AreaCode, r.AreaName,
			r.CumulativeCases, r.NewCases, r.NewDeaths, r.CumulativeDeaths}
		if kind.Geocoded() {
			args = append(args, r.Latitude, r.Longitude)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("appending %s row %s/%s: %w", kind, r.Date, r.AreaCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// CountRecords returns the number of rows stored for date.
func (db *DB) CountRecords(ctx context.Context, kind dataset.Kind, date string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE date = ?", kind.Table()), date,
	).Scan(&n)
	return n, err
}
