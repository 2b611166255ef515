package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const localAreaLabel = "Middle layer super output area"

// PostcodeLookup maps a postcode to the local area name shown on its map page.
type PostcodeLookup struct {
	url    string
	client *http.Client
}

func NewPostcodeLookup(pageURL string, timeout time.Duration) *PostcodeLookup {
	return &PostcodeLookup{url: pageURL, client: newHTTPClient(timeout)}
}

func (p *PostcodeLookup) LocalArea(ctx context.Context, postcode string) (string, error) {
	pc := strings.ToUpper(strings.TrimSpace(postcode))
	if pc == "" {
		return "", errors.New("postcode lookup: empty postcode")
	}

	u, err := url.Parse(p.url)
	if err != nil {
		return "", fmt.Errorf("postcode lookup: %w", err)
	}
	q := u.Query()
	q.Set("postcode", pc)
	u.RawQuery = q.Encode()

	doc, err := fetchDocument(ctx, p.client, u.String())
	if err != nil {
		return "", fmt.Errorf("postcode lookup: %w", err)
	}

	var area string
	tableRows(doc, func(cells []string) bool {
		if len(cells) >= 2 && cells[0] == localAreaLabel {
			area = cells[1]
			return false
		}
		return true
	})
	if area == "" {
		return "", fmt.Errorf("postcode lookup: %s %w", pc, ErrNotFound)
	}
	return area, nil
}
