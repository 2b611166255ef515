// Package source fetches per-release snapshots from the statistics API.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

const (
	logPrefix      = "source"
	dataPath       = "/v2/data"
	userAgent      = "ukcovid/1.0 (data loader)"
	defaultTimeout = 120 * time.Second
)

// ErrNotAvailable means the requested release has not been published.
var ErrNotAvailable = errors.New("release not available")

// StatusError is returned when the API answers with an error status.
// It unwraps to ErrNotAvailable.
type StatusError struct {
	Code    int
	Release string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("release %s: %d %s", e.Release, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	return ErrNotAvailable
}

// Client talks to the statistics API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "text/csv"),
	}
}

// FetchSnapshot downloads the full CSV history of the given release. The
// release selects a data vintage, not a date slice: callers filter by date.
func (c *Client) FetchSnapshot(ctx context.Context, kind dataset.Kind, release string) ([]dataset.Record, error) {
	params := url.Values{
		"areaType": {kind.AreaType()},
		"metric":   kind.Metrics(),
		"format":   {"csv"},
		"release":  {release},
	}

	log.WithFields(log.Fields{"prefix": logPrefix, "kind": kind, "release": release}).Info("requesting snapshot")

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(dataPath)
	if err != nil {
		return nil, fmt.Errorf("fetching %s release %s: %w", kind, release, err)
	}

	// An unpublished vintage is answered with an error status, or with an
	// empty 204 on some deployments.
	if resp.IsError() || resp.StatusCode() == http.StatusNoContent {
		return nil, &StatusError{Code: resp.StatusCode(), Release: release}
	}

	records, err := ParseCSV(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parsing %s release %s: %w", kind, release, err)
	}

	log.WithFields(log.Fields{"prefix": logPrefix, "kind": kind, "release": release, "rows": len(records)}).Info("snapshot received")
	return records, nil
}
