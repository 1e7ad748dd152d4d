package report

import (
	"bytes"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heading.fusion/internal/db"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
	"github.com/banshee-data/heading.fusion/internal/units"
)

func row(src fusion.SourceID, ts uint64, innov float64, enabled, rejected bool) db.StatusRow {
	return db.StatusRow{
		RunID:  "run_a",
		Source: src,
		Status: heading.AidSourceStatus{
			TimestampSample:    ts,
			Innovation:         innov,
			TestRatio:          innov * innov,
			FusionEnabled:      enabled,
			InnovationRejected: rejected,
		},
	}
}

func sampleRows() []db.StatusRow {
	return []db.StatusRow{
		row(fusion.SourceMag, 2_000_000, 0.02, true, false),
		row(fusion.SourceVision, 1_500_000, 0.1, true, false),
		row(fusion.SourceMag, 1_000_000, 0.05, true, false),
		row(fusion.SourceMag, 3_000_000, math.NaN(), true, false),
		row(fusion.SourceGNSS, 1_000_000, 0.3, false, false),
		row(fusion.SourceVision, 2_500_000, 0.9, true, true),
	}
}

func TestSeriesFromStatuses(t *testing.T) {
	got := SeriesFromStatuses(sampleRows())

	want := []Series{
		{Source: fusion.SourceVision, Points: []Point{
			{TimeUs: 1_500_000, Innovation: 0.1, TestRatio: 0.1 * 0.1},
			{TimeUs: 2_500_000, Innovation: 0.9, TestRatio: 0.9 * 0.9, Rejected: true},
		}},
		{Source: fusion.SourceMag, Points: []Point{
			{TimeUs: 1_000_000, Innovation: 0.05, TestRatio: 0.05 * 0.05},
			{TimeUs: 2_000_000, Innovation: 0.02, TestRatio: 0.02 * 0.02},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SeriesFromStatuses mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, got[0].Rejections())
	assert.Equal(t, 0, got[1].Rejections())
	assert.Equal(t, uint64(1_000_000), startUs(got))
}

func TestPlotInnovations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "innovations.png")

	require.NoError(t, PlotInnovations(SeriesFromStatuses(sampleRows()), units.Deg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "output is a PNG")
}

func TestPlotInnovations_NoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.png")

	err := PlotInnovations(nil, units.Rad, path)
	assert.ErrorIs(t, err, ErrNoData)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInnovationChartRenders(t *testing.T) {
	chart := InnovationChart("run=run_a", SeriesFromStatuses(sampleRows()), units.Deg)

	var buf bytes.Buffer
	require.NoError(t, chart.Render(&buf))
	html := buf.String()
	assert.Contains(t, html, "ev_yaw")
	assert.Contains(t, html, "mag_heading")
	assert.Contains(t, html, "deg")
}

type fakeStore struct {
	runs    []db.Run
	rows    []db.StatusRow
	err     error
	gotRun  string
	gotSrc  fusion.SourceID
	gotSize int
}

func (f *fakeStore) Runs() ([]db.Run, error) { return f.runs, f.err }

func (f *fakeStore) Statuses(runID string, source fusion.SourceID, limit int) ([]db.StatusRow, error) {
	f.gotRun, f.gotSrc, f.gotSize = runID, source, limit
	return f.rows, f.err
}

func TestHandler_DefaultsToLatestRun(t *testing.T) {
	store := &fakeStore{
		runs: []db.Run{{RunID: "run_new"}, {RunID: "run_old"}},
		rows: sampleRows(),
	}
	rec := httptest.NewRecorder()
	Handler(store, units.Rad).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/innovations?source=ev_yaw", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "run_new", store.gotRun)
	assert.Equal(t, fusion.SourceVision, store.gotSrc)
	assert.Equal(t, -1, store.gotSize)
	assert.Contains(t, rec.Body.String(), "run_new")
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		url   string
		code  int
	}{
		{"no runs", &fakeStore{}, "/debug/innovations", http.StatusNotFound},
		{"bad limit", &fakeStore{}, "/debug/innovations?run_id=r&limit=x", http.StatusBadRequest},
		{"store failure", &fakeStore{err: errors.New("boom")}, "/debug/innovations?run_id=r", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Handler(tt.store, units.Rad).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}
