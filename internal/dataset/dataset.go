// Package dataset holds the record model, the dataset kinds and the
// in-memory mirror of each persisted dataset.
package dataset

import (
	"sort"
	"sync"
)

// Dataset is the in-memory mirror of one persisted dataset. It is safe for
// concurrent readers; writes come only from the ingestion pipeline.
type Dataset struct {
	mu      sync.RWMutex
	kind    Kind
	records []Record
	dates   map[string]struct{}
	coords  map[string]Point  // coordinates of the latest row per area name
	latest  map[string]string // date of the latest row per area name
}

// New builds a mirror from records already loaded from the store.
func New(kind Kind, records []Record) *Dataset {
	d := &Dataset{
		kind:   kind,
		dates:  make(map[string]struct{}),
		coords: make(map[string]Point),
		latest: make(map[string]string),
	}
	d.appendLocked(records)
	return d
}

// Kind returns the dataset kind.
func (d *Dataset) Kind() Kind {
	return d.kind
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Records returns a copy of all rows in append order.
func (d *Dataset) Records() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// RowsForDate returns a copy of the rows for one date.
func (d *Dataset) RowsForDate(date string) []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return FilterDate(d.records, date)
}

// HasDate reports whether date is part of the dataset.
func (d *Dataset) HasDate(date string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.dates[date]
	return ok
}

// Dates returns the distinct dates, ascending.
func (d *Dataset) Dates() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.dates))
	for k := range d.dates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LatestDate returns the most recent date, or "" for an empty dataset.
func (d *Dataset) LatestDate() string {
	dates := d.Dates()
	if len(dates) == 0 {
		return ""
	}
	return dates[len(dates)-1]
}

// Coordinates returns the location stored on the most recent row for
// areaName. It reports false if the area is unknown or that row has none.
func (d *Dataset) Coordinates(areaName string) (Point, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.coords[areaName]
	return p, ok
}

// Append adds rows that have been committed to the store.
func (d *Dataset) Append(rows []Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendLocked(rows)
}

func (d *Dataset) markDate(date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dates[date] = struct{}{}
}

func (d *Dataset) appendLocked(rows []Record) {
	for _, r := range rows {
		d.records = append(d.records, r)
		d.dates[r.Date] = struct{}{}
		// Rows for an older date never override a newer row's location.
		if r.Date < d.latest[r.AreaName] {
			continue
		}
		d.latest[r.AreaName] = r.Date
		if p, ok := r.Coordinates(); ok {
			d.coords[r.AreaName] = p
		} else {
			delete(d.coords, r.AreaName)
		}
	}
}
