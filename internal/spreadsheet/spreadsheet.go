// Package spreadsheet moves datasets in and out of xlsx workbooks laid out
// with a header row followed by one record per row.
package spreadsheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/source"
)

const logPrefix = "spreadsheet"

// Import reads the first sheet of the workbook at path. Columns are matched
// by header name; coordinates are read only for geocoded kinds.
func Import(path string, kind dataset.Kind) ([]dataset.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{dataset.ColumnDate, dataset.ColumnAreaCode, dataset.ColumnAreaName} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("sheet %s: missing column %q", sheets[0], col)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]dataset.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if len(row) == 0 {
			continue
		}

		date, err := parseCellDate(cell(row, dataset.ColumnDate))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rec := dataset.Record{
			Date:     date,
			AreaType: cell(row, dataset.ColumnAreaType),
			AreaCode: cell(row, dataset.ColumnAreaCode),
			AreaName: cell(row, dataset.ColumnAreaName),
		}

		counts := []struct {
			col  string
			dest *int64
		}{
			{dataset.MetricCumCases, &rec.CumulativeCases},
			{dataset.MetricNewCases, &rec.NewCases},
			{dataset.MetricNewDeaths, &rec.NewDeaths},
			{dataset.MetricCumDeaths, &rec.CumulativeDeaths},
		}
		for _, c := range counts {
			v, err := source.ParseCount(cell(row, c.col))
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", line, c.col, err)
			}
			*c.dest = v
		}

		if kind.Geocoded() {
			lat, latErr := strconv.ParseFloat(cell(row, dataset.ColumnLatitude), 64)
			lon, lonErr := strconv.ParseFloat(cell(row, dataset.ColumnLongitude), 64)
			if latErr == nil && lonErr == nil {
				rec.SetCoordinates(dataset.Point{Lat: lat, Lon: lon})
			}
		}
		records = append(records, rec)
	}

	log.WithFields(log.Fields{
		"prefix": logPrefix,
		"file":   filepath.Base(path),
		"kind":   kind,
		"rows":   len(records),
	}).Info("imported workbook")
	return records, nil
}

// parseCellDate accepts formatted dates as well as raw Excel serial numbers.
func parseCellDate(s string) (string, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return "", fmt.Errorf("date serial %q: %w", s, err)
		}
		return t.Format(dataset.DateLayout), nil
	}
	return dataset.NormalizeDate(s)
}

// Export writes records to a workbook at path in the dataset's column order.
// The workbook is written to a temp file in the same directory and renamed
// into place, so a failed export leaves any existing file untouched.
func Export(path string, kind dataset.Kind, records []dataset.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("creating sheet writer: %w", err)
	}

	cols := kind.Columns()
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range records {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			r.Date, r.AreaType, r.AreaCode, r.AreaName,
			r.CumulativeCases, r.NewCases, r.NewDeaths, r.CumulativeDeaths,
		}
		if kind.Geocoded() {
			values = append(values, floatOrNil(r.Latitude), floatOrNil(r.Longitude))
		}
		if err := sw.SetRow(cellName, values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"prefix": logPrefix,
		"file":   filepath.Base(path),
		"kind":   kind,
		"rows":   len(records),
	}).Info("exported workbook")
	return nil
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
