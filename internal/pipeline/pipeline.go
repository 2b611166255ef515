// Package pipeline ingests one release date of a dataset: it checks the
// ledger, fetches the snapshot, filters it to the date, attaches coordinates
// and appends the rows to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/TobiSchelling/ukcovid/internal/database"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/source"
)

const logPrefix = "pipeline"

// Store persists dataset rows and the run log.
type Store interface {
	LoadRecords(ctx context.Context, kind dataset.Kind) ([]dataset.Record, error)
	AppendRecords(ctx context.Context, kind dataset.Kind, rows []dataset.Record) error
	InsertIngestRun(ctx context.Context, run *database.IngestRun) error
}

// Source returns the full snapshot published in a release.
type Source interface {
	FetchSnapshot(ctx context.Context, kind dataset.Kind, release string) ([]dataset.Record, error)
}

// Resolver attaches coordinates to an area name. It never fails.
type Resolver interface {
	Resolve(ctx context.Context, areaName string) (dataset.Point, bool)
}

// Options tune date validation.
type Options struct {
	MinDate string
	Now     func() time.Time
}

// Pipeline owns the dataset mirrors and the ledger over them.
type Pipeline struct {
	store    Store
	source   Source
	resolver Resolver
	ledger   *dataset.Ledger
	minDate  string
	now      func() time.Time
	locks    map[dataset.Kind]*semaphore.Weighted
}

// LoadLedger reads every dataset from the store and builds the ledger.
func LoadLedger(ctx context.Context, store Store) (*dataset.Ledger, error) {
	sets := make([]*dataset.Dataset, 0, len(dataset.Kinds))
	for _, kind := range dataset.Kinds {
		records, err := store.LoadRecords(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("loading %s dataset: %w", kind, err)
		}
		ds := dataset.New(kind, records)
		log.WithFields(log.Fields{
			"prefix": logPrefix,
			"kind":   kind,
			"rows":   ds.Len(),
			"latest": ds.LatestDate(),
		}).Debug("dataset loaded")
		sets = append(sets, ds)
	}
	return dataset.NewLedger(sets...), nil
}

// New creates a pipeline. The resolver is only consulted for geocoded kinds
// and may be nil when none is configured.
func New(store Store, src Source, resolver Resolver, ledger *dataset.Ledger, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	locks := make(map[dataset.Kind]*semaphore.Weighted, len(dataset.Kinds))
	for _, kind := range dataset.Kinds {
		locks[kind] = semaphore.NewWeighted(1)
	}
	return &Pipeline{
		store:    store,
		source:   src,
		resolver: resolver,
		ledger:   ledger,
		minDate:  opts.MinDate,
		now:      opts.Now,
		locks:    locks,
	}
}

// Dataset returns the current in-memory mirror for kind.
func (p *Pipeline) Dataset(kind dataset.Kind) *dataset.Dataset {
	return p.ledger.Dataset(kind)
}

// Ledger returns the ledger over the pipeline's datasets.
func (p *Pipeline) Ledger() *dataset.Ledger {
	return p.ledger
}

// DryRun describes what IngestAll would do for date without fetching.
func (p *Pipeline) DryRun(date string) []string {
	var lines []string
	for _, kind := range dataset.Kinds {
		switch {
		case p.validateDate(date) != nil:
			lines = append(lines, fmt.Sprintf("[dry-run] %s: %v", kind, p.validateDate(date)))
		case p.ledger.IsIngested(kind, date):
			lines = append(lines, fmt.Sprintf("[dry-run] %s: %s already holds %d rows",
				kind, date, len(p.Dataset(kind).RowsForDate(date))))
		default:
			lines = append(lines, fmt.Sprintf("[dry-run] %s: would fetch release %s (%s)",
				kind, date, kind.AreaType()))
		}
	}
	return lines
}

// IngestAll ingests date into every dataset kind as independent runs.
func (p *Pipeline) IngestAll(ctx context.Context, date string) []Result {
	results := make([]Result, 0, len(dataset.Kinds))
	for _, kind := range dataset.Kinds {
		results = append(results, p.Ingest(ctx, kind, date))
	}
	return results
}

// Ingest runs the pipeline for one kind and date. Runs for the same kind
// are serialised; errors and panics are reported in the result.
func (p *Pipeline) Ingest(ctx context.Context, kind dataset.Kind, date string) (res Result) {
	res = Result{Kind: kind, Date: date}

	lock, ok := p.locks[kind]
	if !ok || p.ledger.Dataset(kind) == nil {
		res.Outcome = Failed
		res.Err = fmt.Errorf("%w: %d", dataset.ErrUnknownKind, int(kind))
		return res
	}
	if err := lock.Acquire(ctx, 1); err != nil {
		res.Outcome = Failed
		res.Err = fmt.Errorf("waiting for %s ingestion: %w", kind, err)
		return res
	}
	defer lock.Release(1)
	// Once started, a run finishes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	started := p.now()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"prefix": logPrefix,
				"kind":   kind,
				"date":   date,
				"panic":  r,
			}).Error("ingestion panicked")
			res.Outcome = Failed
			res.Err = fmt.Errorf("unexpected failure: %v", r)
		}
		if res.Outcome != AlreadyPresent {
			p.recordRun(ctx, res, started)
		}
	}()

	res = p.run(ctx, kind, date)
	return res
}

func (p *Pipeline) run(ctx context.Context, kind dataset.Kind, date string) Result {
	res := Result{Kind: kind, Date: date}
	ds := p.ledger.Dataset(kind)
	fields := log.Fields{"prefix": logPrefix, "kind": kind, "date": date}

	if err := p.validateDate(date); err != nil {
		res.Outcome = Failed
		res.Err = err
		return res
	}

	log.WithFields(fields).Info("Step 1/5: checking ledger")
	if p.ledger.IsIngested(kind, date) {
		res.Outcome = AlreadyPresent
		res.Rows = len(ds.RowsForDate(date))
		return res
	}

	log.WithFields(fields).Info("Step 2/5: fetching snapshot")
	snapshot, err := p.source.FetchSnapshot(ctx, kind, date)
	if err != nil {
		res.Err = err
		if errors.Is(err, source.ErrNotAvailable) {
			res.Outcome = SourceUnavailable
		} else {
			res.Outcome = Failed
		}
		return res
	}

	log.WithFields(fields).Info("Step 3/5: filtering snapshot")
	rows := dataset.FilterDate(snapshot, date)
	for i := range rows {
		if rows[i].AreaType == "" {
			rows[i].AreaType = kind.AreaType()
		}
	}
	log.WithFields(fields).WithField("rows", len(rows)).
		WithField("snapshot", len(snapshot)).Debug("filtered snapshot")

	if kind.Geocoded() {
		log.WithFields(fields).Info("Step 4/5: resolving coordinates")
		res.Unresolved = p.geocode(ctx, rows)
	}

	log.WithFields(fields).Info("Step 5/5: appending rows")
	if err := p.store.AppendRecords(ctx, kind, rows); err != nil {
		res.Outcome = WriteFailed
		res.Err = err
		return res
	}

	ds.Append(rows)
	p.ledger.MarkIngested(kind, date)

	res.Outcome = Uploaded
	res.Rows = len(rows)
	log.WithFields(fields).WithField("rows", res.Rows).Info("upload complete")
	return res
}

// geocode attaches coordinates in place and returns the area names that
// could not be placed.
func (p *Pipeline) geocode(ctx context.Context, rows []dataset.Record) []string {
	if p.resolver == nil {
		return nil
	}
	var unresolved []string
	for i := range rows {
		pt, ok := p.resolver.Resolve(ctx, rows[i].AreaName)
		if !ok {
			unresolved = append(unresolved, rows[i].AreaName)
			continue
		}
		rows[i].SetCoordinates(pt)
		log.WithFields(log.Fields{
			"prefix": logPrefix,
			"area":   rows[i].AreaName,
			"lat":    pt.Lat,
			"lon":    pt.Lon,
		}).Debug("resolved coordinates")
	}
	return unresolved
}

func (p *Pipeline) validateDate(date string) error {
	if _, err := time.Parse(dataset.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	if p.minDate != "" && date < p.minDate {
		return fmt.Errorf("date %s is before the first published date %s", date, p.minDate)
	}
	if today := p.now().Format(dataset.DateLayout); date > today {
		return fmt.Errorf("date %s is in the future", date)
	}
	return nil
}

func (p *Pipeline) recordRun(ctx context.Context, res Result, started time.Time) {
	run := &database.IngestRun{
		ID:         uuid.NewString(),
		Kind:       res.Kind.String(),
		Date:       res.Date,
		Outcome:    res.Outcome.String(),
		RowCount:   res.Rows,
		Unresolved: res.Unresolved,
		Message:    res.Message(),
		StartedAt:  started,
		FinishedAt: p.now(),
	}
	if err := p.store.InsertIngestRun(context.WithoutCancel(ctx), run); err != nil {
		log.WithFields(log.Fields{
			"prefix": logPrefix,
			"run":    run.ID,
			"error":  err,
		}).Warn("failed to record ingest run")
	}
}
