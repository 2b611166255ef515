package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

const ltlaCSV = `areaCode,areaName,areaType,date,cumCasesByPublishDate,newCasesByPublishDate,newDeaths28DaysByPublishDate,cumDeaths28DaysByPublishDate
E08000035,Leeds,ltla,2021-03-01,60000,120,3,1100
E06000014,York,ltla,2021-03-01,10000,30,,
E08000035,Leeds,ltla,2021-02-28,59880,140,2,1097
`

func TestFetchSnapshot(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/data", r.URL.Path)
		query = r.URL.Query()
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(ltlaCSV))
	}))
	defer srv.Close()

	records, err := NewClient(srv.URL, 0).FetchSnapshot(context.Background(), dataset.Daily, "2021-03-01")
	require.NoError(t, err)

	assert.Equal(t, []string{"ltla"}, query["areaType"])
	assert.Equal(t, []string{"2021-03-01"}, query["release"])
	assert.Equal(t, []string{"csv"}, query["format"])
	assert.ElementsMatch(t, dataset.Daily.Metrics(), query["metric"])

	require.Len(t, records, 3)
	assert.Equal(t, dataset.Record{
		Date: "2021-03-01", AreaType: "ltla", AreaCode: "E08000035", AreaName: "Leeds",
		CumulativeCases: 60000, NewCases: 120, NewDeaths: 3, CumulativeDeaths: 1100,
	}, records[0])
	assert.Equal(t, int64(0), records[1].NewDeaths, "blank deaths read as zero")
	assert.Equal(t, "2021-02-28", records[2].Date)
}

func TestFetchSnapshotTotalsAreaType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "overview", r.URL.Query().Get("areaType"))
		w.Write([]byte("date,areaType,areaCode,areaName,cumCasesByPublishDate,newCasesByPublishDate,newDeaths28DaysByPublishDate,cumDeaths28DaysByPublishDate\n" +
			"2021-03-01,overview,K02000001,United Kingdom,4182009,5455,104,122953\n"))
	}))
	defer srv.Close()

	records, err := NewClient(srv.URL, 0).FetchSnapshot(context.Background(), dataset.Totals, "2021-03-01")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(5455), records[0].NewCases)
}

func TestFetchSnapshotNotAvailable(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusBadRequest, http.StatusInternalServerError, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := NewClient(srv.URL, 0).FetchSnapshot(context.Background(), dataset.Daily, "2030-01-01")
		assert.True(t, errors.Is(err, ErrNotAvailable), "status %d", code)

		var se *StatusError
		if assert.True(t, errors.As(err, &se)) {
			assert.Equal(t, code, se.Code)
		}
		srv.Close()
	}
}

func TestFetchSnapshotMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).FetchSnapshot(context.Background(), dataset.Daily, "2021-03-01")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAvailable))
}

func TestParseCSVMissingColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("date,areaCode,areaName\n2021-03-01,A,Alpha\n"))
	assert.ErrorContains(t, err, "cumCasesByPublishDate")
}

func TestParseCSVBadCount(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(strings.Replace(ltlaCSV, "60000", "lots", 1)))
	assert.ErrorContains(t, err, "line 2")
}

func TestParseCSVByteOrderMark(t *testing.T) {
	records, err := ParseCSV(strings.NewReader("\ufeff" + ltlaCSV))
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestParseCount(t *testing.T) {
	for in, want := range map[string]int64{"": 0, " 12 ": 12, "12.0": 12, "-3": -3} {
		got, err := ParseCount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"1.5", "abc", "Inf"} {
		_, err := ParseCount(bad)
		assert.Error(t, err, bad)
	}
}
