package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

const defaultLocalRefresh = time.Hour

var localRequiredColumns = []string{
	dataset.ColumnDate, dataset.ColumnAreaCode, dataset.ColumnAreaName,
	dataset.ColumnLocalAuthorityName, dataset.MetricRollingSum,
}

// ParseLocalAreaCSV reads the local area snapshot. Only the rolling sum is
// required; the other metrics are kept when the header carries them.
func ParseLocalAreaCSV(r io.Reader) ([]dataset.LocalAreaRecord, error) {
	cr, idx, err := readHeader(r, localRequiredColumns)
	if err != nil {
		return nil, err
	}
	cell := func(row []string, col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var records []dataset.LocalAreaRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := dataset.LocalAreaRecord{
			Date:               cell(row, dataset.ColumnDate),
			RegionName:         cell(row, dataset.ColumnRegionName),
			LocalAuthorityCode: cell(row, dataset.ColumnLocalAuthorityCode),
			LocalAuthorityName: cell(row, dataset.ColumnLocalAuthorityName),
			AreaCode:           cell(row, dataset.ColumnAreaCode),
			AreaName:           cell(row, dataset.ColumnAreaName),
			Direction:          strings.ToUpper(cell(row, dataset.MetricRollingDirection)),
		}
		if rec.RollingSum, err = optionalCount(cell(row, dataset.MetricRollingSum)); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, dataset.MetricRollingSum, err)
		}
		if rec.Change, err = optionalCount(cell(row, dataset.MetricRollingChange)); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, dataset.MetricRollingChange, err)
		}
		if rec.RollingRate, err = optionalFloat(cell(row, dataset.MetricRollingRate)); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, dataset.MetricRollingRate, err)
		}
		if rec.ChangePercentage, err = optionalFloat(cell(row, dataset.MetricRollingChangePct)); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, dataset.MetricRollingChangePct, err)
		}

		records = append(records, rec)
	}
	return records, nil
}

func optionalCount(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := ParseCount(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &v, nil
}

// FetchLocalAreas downloads the latest local area snapshot.
func (c *Client) FetchLocalAreas(ctx context.Context) ([]dataset.LocalAreaRecord, error) {
	params := url.Values{
		"areaType": {dataset.LocalAreaType},
		"metric":   dataset.LocalAreaMetrics,
		"format":   {"csv"},
	}

	log.WithFields(log.Fields{"prefix": logPrefix, "areaType": dataset.LocalAreaType}).Info("requesting local area snapshot")

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(dataPath)
	if err != nil {
		return nil, fmt.Errorf("fetching local areas: %w", err)
	}
	if resp.IsError() || resp.StatusCode() == http.StatusNoContent {
		return nil, &StatusError{Code: resp.StatusCode(), Release: "latest"}
	}

	records, err := ParseLocalAreaCSV(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parsing local areas: %w", err)
	}

	log.WithFields(log.Fields{"prefix": logPrefix, "rows": len(records)}).Info("local area snapshot received")
	return records, nil
}

// LocalAreas keeps the most recent local area snapshot in memory and
// refreshes it once it is older than the refresh interval. A failed
// refresh keeps serving the previous snapshot.
type LocalAreas struct {
	client  *Client
	refresh time.Duration
	now     func() time.Time

	mu      sync.Mutex
	records []dataset.LocalAreaRecord
	fetched time.Time
}

// NewLocalAreas creates a snapshot holder backed by client.
func NewLocalAreas(client *Client, refresh time.Duration) *LocalAreas {
	if refresh <= 0 {
		refresh = defaultLocalRefresh
	}
	return &LocalAreas{client: client, refresh: refresh, now: time.Now}
}

// Records returns the current snapshot, fetching it when missing or stale.
// The returned slice is shared and must not be modified.
func (l *LocalAreas) Records(ctx context.Context) ([]dataset.LocalAreaRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.records != nil && l.now().Sub(l.fetched) < l.refresh {
		return l.records, nil
	}

	records, err := l.client.FetchLocalAreas(ctx)
	if err != nil {
		if l.records != nil {
			log.WithFields(log.Fields{"prefix": logPrefix, "error": err}).Warn("local area refresh failed, serving previous snapshot")
			return l.records, nil
		}
		return nil, err
	}
	if records == nil {
		records = []dataset.LocalAreaRecord{}
	}
	l.records = records
	l.fetched = l.now()
	return l.records, nil
}
