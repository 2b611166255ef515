package dataset

import "math"

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64
	Lon float64
}

// Equal reports whether p and o are the same location to within about a metre.
func (p Point) Equal(o Point) bool {
	const eps = 1e-5
	return math.Abs(p.Lat-o.Lat) < eps && math.Abs(p.Lon-o.Lon) < eps
}

// Record is one row of a dataset: an area's figures for a release date.
type Record struct {
	Date             string // YYYY-MM-DD
	AreaType         string
	AreaCode         string
	AreaName         string
	CumulativeCases  int64
	NewCases         int64
	NewDeaths        int64
	CumulativeDeaths int64
	Latitude         *float64 // daily dataset only; nil until resolved
	Longitude        *float64
}

// Coordinates returns the record's location, if both halves are set.
func (r Record) Coordinates() (Point, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return Point{}, false
	}
	return Point{Lat: *r.Latitude, Lon: *r.Longitude}, true
}

// SetCoordinates attaches p to the record.
func (r *Record) SetCoordinates(p Point) {
	lat, lon := p.Lat, p.Lon
	r.Latitude = &lat
	r.Longitude = &lon
}

// FilterDate returns the records whose Date equals date, preserving order.
func FilterDate(records []Record, date string) []Record {
	var out []Record
	for _, r := range records {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}
