package dashboard

import (
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// LocalAreaRow is one line of the local area table.
type LocalAreaRow struct {
	Row                int      `json:"row"`
	Date               string   `json:"date"`
	AreaName           string   `json:"areaName"`
	LocalAuthorityName string   `json:"ltlaName"`
	RollingSum         *int64   `json:"rollingSum"`
	RollingSumText     string   `json:"rollingSumText"`
	RollingRate        *float64 `json:"rollingRate"`
	Direction          string   `json:"direction"`
}

// LocalAreaTimeline is the rolling sum of each selected local area.
type LocalAreaTimeline struct {
	Title  string   `json:"title"`
	Series []Series `json:"series"`
}

// LocalAreaOptions lists the values the local area filters offer.
type LocalAreaOptions struct {
	Dates            []string `json:"dates"`
	LocalAuthorities []string `json:"ltlas"`
	Areas            []string `json:"areas"`
}

var directionArrows = map[string]string{"UP": "↑", "DOWN": "↓", "SAME": "↔"}

func nameSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// LocalAreaTable returns the local areas on date, restricted to the given
// local authorities and areas when any are given, largest rolling sum first.
// Areas whose count is suppressed sort last.
func LocalAreaTable(records []dataset.LocalAreaRecord, date string, ltlas, areas []string) []LocalAreaRow {
	wantLtla, wantArea := nameSet(ltlas), nameSet(areas)

	var rows []dataset.LocalAreaRecord
	for _, r := range records {
		if r.Date != date {
			continue
		}
		if wantLtla != nil && !wantLtla[r.LocalAuthorityName] {
			continue
		}
		if wantArea != nil && !wantArea[r.AreaName] {
			continue
		}
		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].RollingSum, rows[j].RollingSum
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && *a != *b:
			return *a > *b
		}
		return rows[i].AreaName < rows[j].AreaName
	})

	out := make([]LocalAreaRow, len(rows))
	for i, r := range rows {
		row := LocalAreaRow{
			Row:                i + 1,
			Date:               r.Date,
			AreaName:           r.AreaName,
			LocalAuthorityName: r.LocalAuthorityName,
			RollingSum:         r.RollingSum,
			RollingSumText:     "Not Available",
			RollingRate:        r.RollingRate,
			Direction:          directionArrows[r.Direction],
		}
		if r.RollingSum != nil {
			row.RollingSumText = humanize.Comma(*r.RollingSum)
		}
		out[i] = row
	}
	return out
}

// LocalAreaTimelines returns the rolling sum over time for each selected
// area, or for defaultArea when none is selected. Suppressed counts are
// plotted as zero. Local authorities, when given, narrow the areas shown.
func LocalAreaTimelines(records []dataset.LocalAreaRecord, areas, ltlas []string, defaultArea string) LocalAreaTimeline {
	if len(areas) == 0 {
		areas = []string{defaultArea}
	}
	wantLtla := nameSet(ltlas)

	byArea := make(map[string][]Point)
	for _, r := range records {
		if wantLtla != nil && !wantLtla[r.LocalAuthorityName] {
			continue
		}
		var v int64
		if r.RollingSum != nil {
			v = *r.RollingSum
		}
		byArea[r.AreaName] = append(byArea[r.AreaName], Point{Date: r.Date, Value: v})
	}

	tl := LocalAreaTimeline{Title: "Cases for Selected Areas", Series: make([]Series, 0, len(areas))}
	if len(areas) == 1 {
		tl.Title = "Cases for " + areas[0]
	}
	seen := make(map[string]bool)
	for _, a := range areas {
		points, ok := byArea[a]
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
		tl.Series = append(tl.Series, Series{Name: a, Points: points})
	}
	return tl
}

// LocalAreaFilters returns the distinct dates, local authorities and areas
// of a local area snapshot, sorted.
func LocalAreaFilters(records []dataset.LocalAreaRecord) LocalAreaOptions {
	dates := make(map[string]struct{})
	ltlas := make(map[string]struct{})
	areas := make(map[string]struct{})
	for _, r := range records {
		dates[r.Date] = struct{}{}
		ltlas[r.LocalAuthorityName] = struct{}{}
		areas[r.AreaName] = struct{}{}
	}
	return LocalAreaOptions{Dates: sortedKeys(dates), LocalAuthorities: sortedKeys(ltlas), Areas: sortedKeys(areas)}
}

// LatestLocalDate returns the most recent date of the snapshot.
func LatestLocalDate(records []dataset.LocalAreaRecord) string {
	var latest string
	for _, r := range records {
		if r.Date > latest {
			latest = r.Date
		}
	}
	return latest
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
