// Package dashboard prepares rows and series from a dataset snapshot for
// the presentation layer. Nothing here mutates a dataset.
package dashboard

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/TobiSchelling/ukcovid/internal/database"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// Mode selects between the daily and the cumulative figures.
type Mode int

const (
	ModeDaily Mode = iota
	ModeCumulative
)

// ParseMode maps "cumulative" (or "total") to ModeCumulative and anything
// else to ModeDaily.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cumulative", "total", "totals":
		return ModeCumulative
	}
	return ModeDaily
}

func (m Mode) String() string {
	if m == ModeCumulative {
		return "cumulative"
	}
	return "daily"
}

// Metric selects cases or deaths.
type Metric int

const (
	Cases Metric = iota
	Deaths
)

func (m Metric) value(r dataset.Record, mode Mode) int64 {
	switch {
	case m == Cases && mode == ModeDaily:
		return r.NewCases
	case m == Cases:
		return r.CumulativeCases
	case mode == ModeDaily:
		return r.NewDeaths
	default:
		return r.CumulativeDeaths
	}
}

func (m Metric) title(mode Mode) string {
	prefix := "New"
	if mode == ModeCumulative {
		prefix = "Total"
	}
	if m == Deaths {
		return prefix + " Deaths"
	}
	return prefix + " Cases"
}

// TableRow is one line of the data table. Row numbers start at 1.
type TableRow struct {
	Row              int      `json:"row"`
	Date             string   `json:"date"`
	AreaCode         string   `json:"areaCode"`
	AreaName         string   `json:"areaName"`
	NewCases         int64    `json:"newCases"`
	CumulativeCases  int64    `json:"cumulativeCases"`
	NewDeaths        int64    `json:"newDeaths"`
	CumulativeDeaths int64    `json:"cumulativeDeaths"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// Bar is one entry of a top-N chart.
type Bar struct {
	AreaName string `json:"areaName"`
	Value    int64  `json:"value"`
	Label    string `json:"label"`
}

// Chart is a titled top-N list.
type Chart struct {
	Title string `json:"title"`
	Bars  []Bar  `json:"bars"`
}

// Point is one value of a timeline.
type Point struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// Series is a named timeline ordered by date.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Summary holds the headline UK figures for one date.
type Summary struct {
	Date             string `json:"date"`
	DateDisplay      string `json:"dateDisplay"`
	NewCases         int64  `json:"newCases"`
	NewDeaths        int64  `json:"newDeaths"`
	CumulativeCases  int64  `json:"cumulativeCases"`
	CumulativeDeaths int64  `json:"cumulativeDeaths"`

	NewCasesText         string `json:"newCasesText"`
	NewDeathsText        string `json:"newDeathsText"`
	CumulativeCasesText  string `json:"cumulativeCasesText"`
	CumulativeDeathsText string `json:"cumulativeDeathsText"`
}

// selectRows returns the rows for date, restricted to areas when any are given.
func selectRows(ds *dataset.Dataset, date string, areas []string) []dataset.Record {
	rows := ds.RowsForDate(date)
	if len(areas) == 0 {
		return rows
	}
	want := make(map[string]bool, len(areas))
	for _, a := range areas {
		want[a] = true
	}
	out := rows[:0]
	for _, r := range rows {
		if want[r.AreaName] {
			out = append(out, r)
		}
	}
	return out
}

func sortBy(rows []dataset.Record, metric Metric, mode Mode) {
	sort.SliceStable(rows, func(i, j int) bool {
		return metric.value(rows[i], mode) > metric.value(rows[j], mode)
	})
}

// Table returns the rows for date sorted by cases, highest first.
func Table(ds *dataset.Dataset, date string, areas []string, mode Mode) []TableRow {
	rows := selectRows(ds, date, areas)
	sortBy(rows, Cases, mode)

	out := make([]TableRow, len(rows))
	for i, r := range rows {
		out[i] = TableRow{
			Row:              i + 1,
			Date:             r.Date,
			AreaCode:         r.AreaCode,
			AreaName:         r.AreaName,
			NewCases:         r.NewCases,
			CumulativeCases:  r.CumulativeCases,
			NewDeaths:        r.NewDeaths,
			CumulativeDeaths: r.CumulativeDeaths,
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
		}
	}
	return out
}

// Top returns the n areas with the highest metric on date.
func Top(ds *dataset.Dataset, date string, areas []string, mode Mode, metric Metric, n int) Chart {
	rows := selectRows(ds, date, areas)
	sortBy(rows, metric, mode)
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}

	chart := Chart{
		Title: metric.title(mode) + ": " + database.FormatDateDisplay(date),
		Bars:  make([]Bar, len(rows)),
	}
	for i, r := range rows {
		v := metric.value(r, mode)
		chart.Bars[i] = Bar{AreaName: r.AreaName, Value: v, Label: r.AreaName + " - " + humanize.Comma(v)}
	}
	return chart
}

// AreaTimelines returns the daily new cases of each selected area. With no
// selection the default area is shown. Areas absent from the dataset are
// skipped.
func AreaTimelines(ds *dataset.Dataset, areas []string, defaultArea string) []Series {
	if len(areas) == 0 {
		areas = []string{defaultArea}
	}

	byArea := make(map[string][]Point)
	for _, r := range ds.Records() {
		byArea[r.AreaName] = append(byArea[r.AreaName], Point{Date: r.Date, Value: r.NewCases})
	}

	out := make([]Series, 0, len(areas))
	seen := make(map[string]bool)
	for _, a := range areas {
		points, ok := byArea[a]
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
		out = append(out, Series{Name: a, Points: points})
	}
	return out
}

// NationalTimeline sums the totals dataset's new cases for every date the
// daily dataset covers.
func NationalTimeline(daily, totals *dataset.Dataset) Series {
	sums := make(map[string]int64)
	for _, r := range totals.Records() {
		sums[r.Date] += r.NewCases
	}

	dates := daily.Dates()
	s := Series{Name: "Cases", Points: make([]Point, len(dates))}
	for i, d := range dates {
		s.Points[i] = Point{Date: d, Value: sums[d]}
	}
	return s
}

// Summarize returns the UK figures for date. It reports false when the totals
// dataset has no row for that date.
func Summarize(totals *dataset.Dataset, date string) (Summary, bool) {
	rows := totals.RowsForDate(date)
	if len(rows) == 0 {
		return Summary{}, false
	}

	s := Summary{Date: date, DateDisplay: database.FormatDateDisplay(date)}
	for _, r := range rows {
		s.NewCases += r.NewCases
		s.NewDeaths += r.NewDeaths
		s.CumulativeCases += r.CumulativeCases
		s.CumulativeDeaths += r.CumulativeDeaths
	}
	s.NewCasesText = humanize.Comma(s.NewCases)
	s.NewDeathsText = humanize.Comma(s.NewDeaths)
	s.CumulativeCasesText = humanize.Comma(s.CumulativeCases)
	s.CumulativeDeathsText = humanize.Comma(s.CumulativeDeaths)
	return s, true
}

// AreaNames returns the distinct area names, sorted.
func AreaNames(ds *dataset.Dataset) []string {
	set := make(map[string]struct{})
	for _, r := range ds.Records() {
		set[r.AreaName] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Dates returns the dataset's dates, ascending.
func Dates(ds *dataset.Dataset) []string {
	return ds.Dates()
}
