package spreadsheet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

func located(date, code, name string, cases int64, lat, lon float64) dataset.Record {
	r := dataset.Record{Date: date, AreaType: "ltla", AreaCode: code, AreaName: name,
		NewCases: cases, CumulativeCases: cases * 10, NewDeaths: 1, CumulativeDeaths: 20}
	r.SetCoordinates(dataset.Point{Lat: lat, Lon: lon})
	return r
}

func TestExportThenImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covid_data.xlsx")
	rows := []dataset.Record{
		located("2021-03-01", "E08000039", "Sheffield", 85, 53.4038, -1.5439),
		{Date: "2021-03-01", AreaType: "ltla", AreaCode: "E06000053", AreaName: "Isles of Scilly"},
	}

	require.NoError(t, Export(path, dataset.Daily, rows))

	got, err := Import(path, dataset.Daily)
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Errorf("imported rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExportHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covid_totals.xlsx")
	require.NoError(t, Export(path, dataset.Totals, nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, dataset.Totals.Columns(), rows[0])
}

func TestExportReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, Export(path, dataset.Totals, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is renamed, not left behind")
	_, err = Import(path, dataset.Totals)
	assert.NoError(t, err)
}

func TestExportMissingDirectory(t *testing.T) {
	err := Export(filepath.Join(t.TempDir(), "nope", "out.xlsx"), dataset.Daily, nil)
	assert.Error(t, err)
}

func writeLegacy(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "legacy.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestImportLegacyLayout(t *testing.T) {
	path := writeLegacy(t, [][]interface{}{
		{"areaName", "areaCode", "date", "newCasesByPublishDate", "cumCasesByPublishDate",
			"newDeaths28DaysByPublishDate", "cumDeaths28DaysByPublishDate", "Latitude", "Longitude"},
		{"Leeds", "E08000035", "2021-03-01 00:00:00", 120, 60000, "", 1100, 53.8, -1.55},
		{"York", "E06000014", "44256", 30, 10000, 0, 200},
	})

	got, err := Import(path, dataset.Daily)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2021-03-01", got[0].Date)
	assert.Equal(t, int64(120), got[0].NewCases)
	assert.Equal(t, int64(0), got[0].NewDeaths)
	pt, ok := got[0].Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 53.8, pt.Lat, 1e-9)

	assert.Equal(t, "2021-03-01", got[1].Date, "excel serial date")
	_, ok = got[1].Coordinates()
	assert.False(t, ok)
}

func TestImportTotalsIgnoresCoordinates(t *testing.T) {
	path := writeLegacy(t, [][]interface{}{
		{"date", "areaCode", "areaName", "Latitude", "Longitude"},
		{"2021-03-01", "K02000001", "United Kingdom", 1, 2},
	})
	got, err := Import(path, dataset.Totals)
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].Coordinates()
	assert.False(t, ok)
}

func TestImportMissingColumn(t *testing.T) {
	path := writeLegacy(t, [][]interface{}{{"date", "areaName"}, {"2021-03-01", "Leeds"}})
	_, err := Import(path, dataset.Daily)
	assert.ErrorContains(t, err, "areaCode")
}

func TestImportBadDate(t *testing.T) {
	path := writeLegacy(t, [][]interface{}{
		{"date", "areaCode", "areaName"},
		{"someday", "E08000035", "Leeds"},
	})
	_, err := Import(path, dataset.Daily)
	assert.ErrorContains(t, err, "row 2")
}
