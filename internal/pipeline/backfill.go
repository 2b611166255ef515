package pipeline

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// Backfill appends rows that came from outside the statistics source, such
// as a legacy workbook. Rows are grouped by date and each date is one
// append, so dates the ledger already holds are skipped and a failed date
// leaves the others in place. Coordinates already on the rows are kept.
func (p *Pipeline) Backfill(ctx context.Context, kind dataset.Kind, rows []dataset.Record) []Result {
	ds := p.ledger.Dataset(kind)
	lock, ok := p.locks[kind]
	if !ok || ds == nil {
		return []Result{{Kind: kind, Outcome: Failed, Err: fmt.Errorf("%w: %d", dataset.ErrUnknownKind, int(kind))}}
	}
	if err := lock.Acquire(ctx, 1); err != nil {
		return []Result{{Kind: kind, Outcome: Failed, Err: fmt.Errorf("waiting for %s ingestion: %w", kind, err)}}
	}
	defer lock.Release(1)

	byDate := make(map[string][]dataset.Record)
	for _, r := range rows {
		if !kind.Geocoded() {
			r.Latitude, r.Longitude = nil, nil
		}
		if r.AreaType == "" {
			r.AreaType = kind.AreaType()
		}
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	results := make([]Result, 0, len(dates))
	for _, date := range dates {
		res := Result{Kind: kind, Date: date}
		batch := byDate[date]
		switch {
		case p.ledger.IsIngested(kind, date):
			res.Outcome = AlreadyPresent
		default:
			if err := p.store.AppendRecords(ctx, kind, batch); err != nil {
				res.Outcome = WriteFailed
				res.Err = err
				break
			}
			ds.Append(batch)
			p.ledger.MarkIngested(kind, date)
			res.Outcome = Uploaded
			res.Rows = len(batch)
		}
		results = append(results, res)
	}

	log.WithFields(log.Fields{
		"prefix": logPrefix,
		"kind":   kind,
		"dates":  len(dates),
		"rows":   len(rows),
	}).Info("backfill finished")
	return results
}
