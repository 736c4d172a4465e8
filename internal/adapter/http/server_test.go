package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/tchi-pipeline/internal/adapter/http"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockPoints struct {
	lat, lon float64
	err      error
}

func (m *mockPoints) Query(_ context.Context, lat, lon float64) (domain.Series, error) {
	m.lat, m.lon = lat, lon
	if m.err != nil {
		return domain.Series{}, m.err
	}
	return domain.Series{
		Location:   domain.Location{Lat: lat, Lon: lon},
		TimeSeries: []domain.TimeSeriesPoint{{Date: domain.MustParseDate("2024-06-01"), TCHIScore: 0.7}},
		Metadata:   domain.SeriesMetadata{TotalDates: 1},
	}, nil
}

type mockDates struct{}

func (mockDates) Dates(context.Context) ([]domain.Date, error) {
	return []domain.Date{domain.MustParseDate("2024-06-01"), domain.MustParseDate("2024-06-02")}, nil
}

type mockHotspots struct {
	count int
}

func (m *mockHotspots) Find(_ context.Context, d domain.Date, count int) ([]domain.Hotspot, error) {
	m.count = count
	if d.String() == "2024-01-01" {
		return nil, fmt.Errorf("composite for %s: %w", d, domain.ErrNotFound)
	}
	return []domain.Hotspot{{Lat: 25, Lon: -80, TCHIScore: 0.9, Rank: 1, Name: "Florida Straits"}}, nil
}

type mockTiles struct {
	got []tile.Request
}

func (m *mockTiles) Render(_ context.Context, req tile.Request) []byte {
	m.got = append(m.got, req)
	return []byte("png")
}

type fixture struct {
	srv      *httpadapter.Server
	points   *mockPoints
	hotspots *mockHotspots
	tiles    *mockTiles
}

func newFixture(readyErr error) *fixture {
	f := &fixture{points: &mockPoints{}, hotspots: &mockHotspots{}, tiles: &mockTiles{}}
	f.srv = httpadapter.NewServer(":0", httpadapter.Services{
		Ready:    &mockReadiness{err: readyErr},
		Points:   f.points,
		Dates:    mockDates{},
		Hotspots: f.hotspots,
		Tiles:    f.tiles,
	}, slog.Default())
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := newFixture(nil).get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(nil).get("/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(fmt.Errorf("processed data unavailable")).get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "processed data unavailable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(nil).get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDates(t *testing.T) {
	rec := newFixture(nil).get("/api/dates")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"2024-06-01", "2024-06-02"}, body)
}

func TestPoint(t *testing.T) {
	f := newFixture(nil)
	rec := f.get("/api/point?lat=24.5&lon=-81.25")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 24.5, f.points.lat, 1e-12)
	assert.InDelta(t, -81.25, f.points.lon, 1e-12)

	var body struct {
		Location   map[string]float64 `json:"location"`
		TimeSeries []struct {
			Date      string  `json:"date"`
			TCHIScore float64 `json:"tchi_score"`
		} `json:"timeseries"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 24.5, body.Location["lat"])
	require.Len(t, body.TimeSeries, 1)
	assert.Equal(t, "2024-06-01", body.TimeSeries[0].Date)
	assert.EqualValues(t, 1, body.Metadata["total_dates"])
}

func TestPoint_BadRequests(t *testing.T) {
	f := newFixture(nil)
	for _, path := range []string{"/api/point?lon=1", "/api/point?lat=abc&lon=1", "/api/point?lat=1"} {
		rec := f.get(path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["error"])
		assert.EqualValues(t, 400, body["code"])
		assert.NotEmpty(t, body["message"])
	}

	f.points.err = fmt.Errorf("%w: lat 91 outside [-90, 90]", domain.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/point?lat=91&lon=0").Code)

	f.points.err = fmt.Errorf("disk on fire")
	rec := f.get("/api/point?lat=1&lon=0")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestHotspots(t *testing.T) {
	f := newFixture(nil)
	rec := f.get("/api/hotspots?date=2024-06-01&count=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.hotspots.count)

	var body []domain.Hotspot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []domain.Hotspot{{Lat: 25, Lon: -80, TCHIScore: 0.9, Rank: 1, Name: "Florida Straits"}}, body)

	f.get("/api/hotspots?date=2024-06-01")
	assert.Zero(t, f.hotspots.count, "count defaults downstream")
}

func TestHotspots_Errors(t *testing.T) {
	f := newFixture(nil)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/hotspots").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/hotspots?date=06/01/2024").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/hotspots?date=2024-06-01&count=many").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/api/hotspots?date=2024-01-01").Code)
}

func TestTiles(t *testing.T) {
	f := newFixture(nil)
	rec := f.get("/api/tiles/2024-06-01/tchi/3/2/5.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "png", rec.Body.String())
	require.Len(t, f.tiles.got, 1)
	assert.Equal(t, tile.Request{Date: domain.MustParseDate("2024-06-01"), Layer: domain.LayerTCHI, Z: 3, X: 2, Y: 5}, f.tiles.got[0])

	f.get("/api/tiles/2024-06-01/s_eke/0/0/0")
	require.Len(t, f.tiles.got, 2)
	assert.Equal(t, domain.LayerSuitEKE, f.tiles.got[1].Layer)
}

func TestTiles_InvalidRequestsGetBlankTile(t *testing.T) {
	f := newFixture(nil)
	for _, path := range []string{
		"/api/tiles/yesterday/tchi/0/0/0",
		"/api/tiles/2024-06-01/wind/0/0/0",
		"/api/tiles/2024-06-01/tchi/25/0/0",
		"/api/tiles/2024-06-01/tchi/1/2/0.png",
	} {
		rec := f.get(path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, tile.Blank(), rec.Body.Bytes(), path)
		assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	}
	assert.Empty(t, f.tiles.got)
}
