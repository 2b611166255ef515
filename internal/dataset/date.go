package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// NormalizeDate rewrites a user or spreadsheet supplied date as YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return "", fmt.Errorf("unrecognised date %q: %w", s, err)
	}
	return t.Format(DateLayout), nil
}
