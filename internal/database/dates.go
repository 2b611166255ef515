package database

import "time"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format("2006-01-02")
}

// FormatDateDisplay formats a YYYY-MM-DD date for human-readable display,
// e.g. "Mar 01, 2021". Unparseable input is returned unchanged.
func FormatDateDisplay(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
