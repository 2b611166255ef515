package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/ukcovid/internal/database"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/geocode"
	"github.com/TobiSchelling/ukcovid/internal/source"
)

var testNow = func() time.Time { return time.Date(2021, 3, 10, 12, 0, 0, 0, time.UTC) }

type stubSource struct {
	mu      sync.Mutex
	calls   int
	records map[dataset.Kind][]dataset.Record
	err     error
	panics  bool
}

func (s *stubSource) FetchSnapshot(_ context.Context, kind dataset.Kind, _ string) ([]dataset.Record, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panics {
		panic("schema mismatch")
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]dataset.Record(nil), s.records[kind]...), nil
}

type memStore struct {
	rows       map[dataset.Kind][]dataset.Record
	runs       []*database.IngestRun
	appendErr  error
	runErr     error
	appendCall int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[dataset.Kind][]dataset.Record)}
}

func (m *memStore) LoadRecords(_ context.Context, kind dataset.Kind) ([]dataset.Record, error) {
	return append([]dataset.Record(nil), m.rows[kind]...), nil
}

func (m *memStore) AppendRecords(_ context.Context, kind dataset.Kind, rows []dataset.Record) error {
	m.appendCall++
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rows[kind] = append(m.rows[kind], rows...)
	return nil
}

func (m *memStore) InsertIngestRun(_ context.Context, run *database.IngestRun) error {
	if m.runErr != nil {
		return m.runErr
	}
	m.runs = append(m.runs, run)
	return nil
}

func ltla(date, code, name string, cases int64) dataset.Record {
	return dataset.Record{Date: date, AreaType: "ltla", AreaCode: code, AreaName: name,
		NewCases: cases, CumulativeCases: cases * 10}
}

func snapshot() map[dataset.Kind][]dataset.Record {
	return map[dataset.Kind][]dataset.Record{
		dataset.Daily: {
			ltla("2021-03-01", "E07000004", "Aylesbury Vale", 40),
			ltla("2021-03-01", "E07000005", "Chiltern", 25),
			ltla("2021-02-28", "E07000004", "Aylesbury Vale", 38),
		},
		dataset.Totals: {
			{Date: "2021-03-01", AreaCode: "K02000001", AreaName: "United Kingdom", NewCases: 5455},
			{Date: "2021-02-28", AreaCode: "K02000001", AreaName: "United Kingdom", NewCases: 6035},
		},
	}
}

func newPipeline(t *testing.T, store Store, src Source, resolver Resolver) *Pipeline {
	t.Helper()
	ledger, err := LoadLedger(context.Background(), store)
	require.NoError(t, err)
	return New(store, src, resolver, ledger, Options{MinDate: "2020-08-12", Now: testNow})
}

func TestIngestIsIdempotent(t *testing.T) {
	for _, kind := range dataset.Kinds {
		t.Run(kind.String(), func(t *testing.T) {
			store := newMemStore()
			src := &stubSource{records: snapshot()}
			p := newPipeline(t, store, src, nil)
			ctx := context.Background()

			first := p.Ingest(ctx, kind, "2021-03-01")
			assert.Equal(t, Uploaded, first.Outcome)
			assert.Equal(t, "Upload Complete", first.Message())
			before := len(p.Dataset(kind).RowsForDate("2021-03-01"))
			require.NotZero(t, before)

			second := p.Ingest(ctx, kind, "2021-03-01")
			assert.Equal(t, AlreadyPresent, second.Outcome)
			assert.Equal(t, "Already Uploaded", second.Message())
			assert.Equal(t, before, len(p.Dataset(kind).RowsForDate("2021-03-01")))
			assert.Equal(t, 1, src.calls, "second call never reaches the source")
			assert.Equal(t, 1, store.appendCall)
		})
	}
}

func TestIngestFiltersToDate(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &stubSource{records: snapshot()}, nil)

	res := p.Ingest(context.Background(), dataset.Totals, "2021-02-28")
	require.Equal(t, Uploaded, res.Outcome)
	assert.Equal(t, 1, res.Rows)
	require.Len(t, store.rows[dataset.Totals], 1)
	assert.Equal(t, "2021-02-28", store.rows[dataset.Totals][0].Date)
	assert.Equal(t, "overview", store.rows[dataset.Totals][0].AreaType, "missing area type filled from kind")
	assert.False(t, p.Ledger().IsIngested(dataset.Totals, "2021-03-01"))
}

func TestIngestSourceUnavailable(t *testing.T) {
	store := newMemStore()
	src := &stubSource{err: &source.StatusError{Code: 404, Release: "2021-03-09"}}
	p := newPipeline(t, store, src, nil)

	res := p.Ingest(context.Background(), dataset.Daily, "2021-03-09")
	assert.Equal(t, SourceUnavailable, res.Outcome)
	assert.Equal(t, "Not Available", res.Message())
	assert.False(t, p.Ledger().IsIngested(dataset.Daily, "2021-03-09"))
	assert.Zero(t, store.appendCall)
}

func TestIngestMalformedSnapshotFails(t *testing.T) {
	p := newPipeline(t, newMemStore(), &stubSource{err: errors.New("line 2 column date: bad")}, nil)

	res := p.Ingest(context.Background(), dataset.Daily, "2021-03-01")
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Message(), "Failed: line 2")
}

func TestIngestWriteFailedAllowsRetry(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("database is locked")
	p := newPipeline(t, store, &stubSource{records: snapshot()}, nil)
	ctx := context.Background()

	res := p.Ingest(ctx, dataset.Totals, "2021-03-01")
	assert.Equal(t, WriteFailed, res.Outcome)
	assert.Equal(t, "Write Failed: database is locked", res.Message())
	assert.False(t, p.Ledger().IsIngested(dataset.Totals, "2021-03-01"))
	assert.Zero(t, p.Dataset(dataset.Totals).Len())

	store.appendErr = nil
	res = p.Ingest(ctx, dataset.Totals, "2021-03-01")
	assert.Equal(t, Uploaded, res.Outcome)
	assert.Equal(t, 1, p.Dataset(dataset.Totals).Len())
}

// cancellingSource returns its rows and then cancels the caller's context,
// as a browser hanging up mid-run would.
type cancellingSource struct {
	cancel  context.CancelFunc
	records []dataset.Record
}

func (c *cancellingSource) FetchSnapshot(_ context.Context, _ dataset.Kind, _ string) ([]dataset.Record, error) {
	c.cancel()
	return c.records, nil
}

func TestIngestRunsToCompletionAfterCancel(t *testing.T) {
	db := openStore(t)
	ledger, err := LoadLedger(context.Background(), db)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancellingSource{cancel: cancel, records: snapshot()[dataset.Totals]}
	p := New(db, src, nil, ledger, Options{Now: testNow})

	res := p.Ingest(ctx, dataset.Totals, "2021-03-01")
	require.Equal(t, Uploaded, res.Outcome, res.Message())

	runs, err := db.GetRecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "uploaded", runs[0].Outcome)
}

func TestIngestRecoversPanic(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &stubSource{panics: true}, nil)

	res := p.Ingest(context.Background(), dataset.Daily, "2021-03-01")
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "schema mismatch")
	require.Len(t, store.runs, 1)
	assert.Equal(t, "failed", store.runs[0].Outcome)
}

func TestIngestValidatesDate(t *testing.T) {
	src := &stubSource{records: snapshot()}
	p := newPipeline(t, newMemStore(), src, nil)

	for _, date := range []string{"01/03/2021", "2020-08-11", "2021-03-11", ""} {
		res := p.Ingest(context.Background(), dataset.Daily, date)
		assert.Equal(t, Failed, res.Outcome, date)
	}
	assert.Zero(t, src.calls)
}

func TestIngestUnknownKind(t *testing.T) {
	p := newPipeline(t, newMemStore(), &stubSource{}, nil)
	res := p.Ingest(context.Background(), dataset.Kind(42), "2021-03-01")
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, dataset.ErrUnknownKind))
}

type kindSource struct {
	unavailable dataset.Kind
	records     map[dataset.Kind][]dataset.Record
}

func (k *kindSource) FetchSnapshot(_ context.Context, kind dataset.Kind, release string) ([]dataset.Record, error) {
	if kind == k.unavailable {
		return nil, &source.StatusError{Code: 404, Release: release}
	}
	return k.records[kind], nil
}

func TestIngestAllRunsKindsIndependently(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &kindSource{unavailable: dataset.Daily, records: snapshot()}, nil)

	results := p.IngestAll(context.Background(), "2021-03-01")
	require.Len(t, results, 2)
	assert.Equal(t, dataset.Daily, results[0].Kind)
	assert.Equal(t, SourceUnavailable, results[0].Outcome)
	assert.Equal(t, dataset.Totals, results[1].Kind)
	assert.Equal(t, Uploaded, results[1].Outcome)
	assert.Len(t, store.runs, 2)
}

func TestRunLogSkipsShortCircuit(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &stubSource{records: snapshot()}, nil)
	ctx := context.Background()

	p.Ingest(ctx, dataset.Totals, "2021-03-01")
	p.Ingest(ctx, dataset.Totals, "2021-03-01")
	require.Len(t, store.runs, 1)
	assert.Equal(t, "uploaded", store.runs[0].Outcome)
	assert.Equal(t, "totals", store.runs[0].Kind)
	assert.NotEmpty(t, store.runs[0].ID)

	store.runErr = errors.New("disk full")
	res := p.Ingest(ctx, dataset.Totals, "2021-02-28")
	assert.Equal(t, Uploaded, res.Outcome, "run log failures do not change the outcome")
}

func TestConcurrentIngestAppendsOnce(t *testing.T) {
	store := newMemStore()
	src := &stubSource{records: snapshot()}
	p := newPipeline(t, store, src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Ingest(context.Background(), dataset.Totals, "2021-03-01")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, src.calls)
	assert.Len(t, store.rows[dataset.Totals], 1)
}

type countingLocator struct{ calls []string }

func (c *countingLocator) Locate(_ context.Context, name string) (dataset.Point, error) {
	c.calls = append(c.calls, name)
	return dataset.Point{}, geocode.ErrNotFound
}

func openStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ukcovid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIngestEndToEnd(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	ledger, err := LoadLedger(ctx, db)
	require.NoError(t, err)

	overrides := map[string]dataset.Point{
		"Aylesbury Vale": {Lat: 51.8996278, Lon: -1.1193516},
		"Chiltern":       {Lat: 51.6788424, Lon: -0.7737162},
	}
	live := &countingLocator{}
	resolver := geocode.NewResolver(ledger.Dataset(dataset.Daily), live, nil, overrides)
	p := New(db, &stubSource{records: snapshot()}, resolver, ledger, Options{MinDate: "2020-08-12", Now: testNow})

	res := p.Ingest(ctx, dataset.Daily, "2021-03-01")
	require.Equal(t, Uploaded, res.Outcome, res.Message())
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, live.calls)

	rows := p.Dataset(dataset.Daily).Records()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "2021-03-01", r.Date)
		pt, ok := r.Coordinates()
		require.True(t, ok, r.AreaName)
		assert.Equal(t, overrides[r.AreaName], pt)
	}

	// A fresh ledger rebuilt from the store agrees with the in-memory one.
	reloaded, err := LoadLedger(ctx, db)
	require.NoError(t, err)
	assert.True(t, reloaded.IsIngested(dataset.Daily, "2021-03-01"))
	assert.Equal(t, 2, reloaded.Dataset(dataset.Daily).Len())

	runs, err := db.GetRecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].RowCount)
}

func TestIngestUnresolvedAreasStillUpload(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	ledger, err := LoadLedger(ctx, db)
	require.NoError(t, err)

	live := &countingLocator{}
	resolver := geocode.NewResolver(ledger.Dataset(dataset.Daily), live, nil, nil)
	p := New(db, &stubSource{records: snapshot()}, resolver, ledger, Options{Now: testNow})

	res := p.Ingest(ctx, dataset.Daily, "2021-03-01")
	require.Equal(t, Uploaded, res.Outcome)
	assert.ElementsMatch(t, []string{"Aylesbury Vale", "Chiltern"}, res.Unresolved)

	stored, err := db.LoadRecords(ctx, dataset.Daily)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Nil(t, stored[0].Latitude)
}

func TestIngestWriteFailureLeavesStoreUnchanged(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	require.NoError(t, db.AppendRecords(ctx, dataset.Daily, []dataset.Record{ltla("2021-02-27", "A", "Alpha", 1)}))

	ledger, err := LoadLedger(ctx, db)
	require.NoError(t, err)

	// Two rows for the same area and date violate the store's key mid-write.
	src := &stubSource{records: map[dataset.Kind][]dataset.Record{dataset.Daily: {
		ltla("2021-03-01", "A", "Alpha", 1),
		ltla("2021-03-01", "A", "Alpha", 2),
	}}}
	p := New(db, src, nil, ledger, Options{Now: testNow})

	res := p.Ingest(ctx, dataset.Daily, "2021-03-01")
	require.Equal(t, WriteFailed, res.Outcome)
	assert.False(t, p.Ledger().IsIngested(dataset.Daily, "2021-03-01"))

	reloaded, err := LoadLedger(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Dataset(dataset.Daily).Len())
	assert.False(t, reloaded.IsIngested(dataset.Daily, "2021-03-01"))
}

func TestBackfill(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &stubSource{records: snapshot()}, nil)
	ctx := context.Background()
	require.Equal(t, Uploaded, p.Ingest(ctx, dataset.Totals, "2021-03-01").Outcome)

	lat := 1.0
	imported := []dataset.Record{
		{Date: "2021-02-27", AreaCode: "K02000001", AreaName: "United Kingdom", NewCases: 1, Latitude: &lat, Longitude: &lat},
		{Date: "2021-03-01", AreaCode: "K02000001", AreaName: "United Kingdom", NewCases: 2},
	}
	results := p.Backfill(ctx, dataset.Totals, imported)
	require.Len(t, results, 2)
	assert.Equal(t, Uploaded, results[0].Outcome)
	assert.Equal(t, AlreadyPresent, results[1].Outcome)

	assert.True(t, p.Ledger().IsIngested(dataset.Totals, "2021-02-27"))
	assert.Equal(t, 2, p.Dataset(dataset.Totals).Len())
	_, ok := p.Dataset(dataset.Totals).RowsForDate("2021-02-27")[0].Coordinates()
	assert.False(t, ok, "totals rows carry no coordinates")
}

func TestBackfillOlderDateKeepsCachedCoordinates(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	ledger, err := LoadLedger(ctx, store)
	require.NoError(t, err)

	live := &countingLocator{}
	resolver := geocode.NewResolver(ledger.Dataset(dataset.Daily), live, nil, nil)
	p := New(store, &stubSource{}, resolver, ledger, Options{Now: testNow})

	leeds := ltla("2021-03-01", "E08000035", "Leeds", 10)
	leeds.SetCoordinates(dataset.Point{Lat: 53.8, Lon: -1.5})
	require.Equal(t, Uploaded, p.Backfill(ctx, dataset.Daily, []dataset.Record{leeds})[0].Outcome)

	older := ltla("2021-01-15", "E08000035", "Leeds", 3)
	require.Equal(t, Uploaded, p.Backfill(ctx, dataset.Daily, []dataset.Record{older})[0].Outcome)

	pt, ok := resolver.Resolve(ctx, "Leeds")
	require.True(t, ok)
	assert.Equal(t, dataset.Point{Lat: 53.8, Lon: -1.5}, pt)
	assert.Empty(t, live.calls, "cache tier answers from the newest row")
}

func TestDryRun(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, &stubSource{records: snapshot()}, nil)
	p.Ingest(context.Background(), dataset.Totals, "2021-03-01")

	lines := p.DryRun("2021-03-01")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "would fetch")
	assert.Contains(t, lines[1], "already holds 1 rows")
	assert.Equal(t, 1, store.appendCall, "dry run appends nothing")
}
