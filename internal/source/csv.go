package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

var requiredColumns = []string{
	dataset.ColumnDate, dataset.ColumnAreaCode, dataset.ColumnAreaName,
	dataset.MetricCumCases, dataset.MetricNewCases, dataset.MetricNewDeaths, dataset.MetricCumDeaths,
}

// ParseCSV reads the API's CSV format into records. Columns are located by
// header name; empty metric cells read as zero.
func ParseCSV(r io.Reader) ([]dataset.Record, error) {
	cr, idx, err := readHeader(r, requiredColumns)
	if err != nil {
		return nil, err
	}
	areaTypeCol, hasAreaType := idx[dataset.ColumnAreaType]

	var records []dataset.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := dataset.Record{
			Date:     row[idx[dataset.ColumnDate]],
			AreaCode: row[idx[dataset.ColumnAreaCode]],
			AreaName: row[idx[dataset.ColumnAreaName]],
		}
		if hasAreaType {
			rec.AreaType = row[areaTypeCol]
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
			v, err := ParseCount(row[idx[c.col]])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, c.col, err)
			}
			*c.dest = v
		}

		records = append(records, rec)
	}
	return records, nil
}

// readHeader reads the header line and maps column names to positions.
func readHeader(r io.Reader, required []string) (*csv.Reader, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("empty response")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", col)
		}
	}
	return cr, idx, nil
}

// ParseCount parses an integer metric. Blank means zero; whole-number
// floats such as "12.0" are accepted.
func ParseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return int64(f), nil
}
