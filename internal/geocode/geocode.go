// Package geocode resolves coordinates for local authority names.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

const (
	logPrefix      = "geocode"
	userAgent      = "ukcovid/1.0 (data loader)"
	defaultTimeout = 30 * time.Second
)

// ErrNotFound is returned when a source has no entry for the requested name.
var ErrNotFound = errors.New("not found")

// Locator looks up the coordinates of a named area at a live source.
type Locator interface {
	Locate(ctx context.Context, name string) (dataset.Point, error)
}

type httpError struct {
	code int
	url  string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.url, e.code, http.StatusText(e.code))
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode, url: pageURL}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	return doc, nil
}

// tableRows calls fn with the trimmed cell texts of every table row in doc.
func tableRows(doc *goquery.Document, fn func(cells []string) bool) {
	doc.Find("table tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(c.Text()))
		})
		if len(cells) == 0 {
			return true
		}
		return fn(cells)
	})
}
