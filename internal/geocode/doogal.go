package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// AreaTable locates areas by scraping a page of administrative areas laid
// out as table rows of name, code, latitude, longitude. The page is fetched
// once per process; a failed fetch is retried on the next lookup.
type AreaTable struct {
	url    string
	client *http.Client

	mu    sync.Mutex
	index map[string]dataset.Point
}

func NewAreaTable(pageURL string, timeout time.Duration) *AreaTable {
	return &AreaTable{url: pageURL, client: newHTTPClient(timeout)}
}

// Locate returns the coordinates of the first row whose name cell equals name.
func (a *AreaTable) Locate(ctx context.Context, name string) (dataset.Point, error) {
	index, err := a.load(ctx)
	if err != nil {
		return dataset.Point{}, err
	}
	p, ok := index[name]
	if !ok {
		return dataset.Point{}, fmt.Errorf("area table: %q %w", name, ErrNotFound)
	}
	return p, nil
}

func (a *AreaTable) load(ctx context.Context) (map[string]dataset.Point, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.index != nil {
		return a.index, nil
	}

	doc, err := fetchDocument(ctx, a.client, a.url)
	if err != nil {
		return nil, fmt.Errorf("area table: %w", err)
	}
	a.index = parseAreaTable(doc)

	log.WithFields(log.Fields{
		"prefix": logPrefix,
		"url":    a.url,
		"areas":  len(a.index),
	}).Debug("loaded area table")
	return a.index, nil
}

func parseAreaTable(doc *goquery.Document) map[string]dataset.Point {
	index := make(map[string]dataset.Point)
	tableRows(doc, func(cells []string) bool {
		if len(cells) < 4 {
			return true
		}
		lat, err := strconv.ParseFloat(cells[2], 64)
		if err != nil {
			return true
		}
		lon, err := strconv.ParseFloat(cells[3], 64)
		if err != nil {
			return true
		}
		if _, seen := index[cells[0]]; !seen {
			index[cells[0]] = dataset.Point{Lat: lat, Lon: lon}
		}
		return true
	})
	return index
}
