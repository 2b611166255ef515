package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for names that match no dataset.
var ErrUnknownKind = errors.New("unknown dataset kind")

// Column names shared by the statistics source and the stored datasets.
const (
	MetricCumCases  = "cumCasesByPublishDate"
	MetricNewCases  = "newCasesByPublishDate"
	MetricNewDeaths = "newDeaths28DaysByPublishDate"
	MetricCumDeaths = "cumDeaths28DaysByPublishDate"
	ColumnDate      = "date"
	ColumnAreaType  = "areaType"
	ColumnAreaCode  = "areaCode"
	ColumnAreaName  = "areaName"
	ColumnLatitude  = "Latitude"
	ColumnLongitude = "Longitude"
)

// DateLayout is the layout of release and record dates.
const DateLayout = "2006-01-02"

// Kind identifies one of the persisted datasets.
type Kind int

const (
	// Daily holds one row per local authority per release date.
	Daily Kind = iota + 1
	// Totals holds one row per nation (the UK overview) per release date.
	Totals
)

// Kinds lists every dataset kind in ingestion order.
var Kinds = []Kind{Daily, Totals}

var metrics = []string{MetricCumCases, MetricNewCases, MetricNewDeaths, MetricCumDeaths}

// ParseKind accepts either the dataset name or the source area type.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "ltla":
		return Daily, nil
	case "totals", "overview":
		return Totals, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Totals:
		return "totals"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// AreaType is the areaType query parameter understood by the statistics source.
func (k Kind) AreaType() string {
	if k == Daily {
		return "ltla"
	}
	return "overview"
}

// Metrics returns the metric names requested for this dataset.
func (k Kind) Metrics() []string {
	out := make([]string, len(metrics))
	copy(out, metrics)
	return out
}

// Geocoded reports whether rows of this dataset carry coordinates.
func (k Kind) Geocoded() bool {
	return k == Daily
}

// Table is the storage table backing the dataset.
func (k Kind) Table() string {
	if k == Daily {
		return "daily_records"
	}
	return "total_records"
}

// Columns returns the persisted column order of the dataset.
func (k Kind) Columns() []string {
	cols := []string{ColumnDate, ColumnAreaType, ColumnAreaCode, ColumnAreaName}
	cols = append(cols, metrics...)
	if k.Geocoded() {
		cols = append(cols, ColumnLatitude, ColumnLongitude)
	}
	return cols
}

// Valid reports whether k names a known dataset.
func (k Kind) Valid() bool {
	return k == Daily || k == Totals
}
