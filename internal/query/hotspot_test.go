package query_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/query"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peak struct {
	col, row int
	height   float32
}

// cones builds a 40×40 composite at 0.1° with linear cones around each peak.
func cones(peaks ...peak) *raster.Grid {
	g := raster.New(40, 40, raster.GeoTransform{OriginX: -80, OriginY: 28, PixelWidth: 0.1, PixelHeight: 0.1}, raster.WGS84)
	for row := range 40 {
		for col := range 40 {
			var v float32
			for _, p := range peaks {
				d := max(abs(col-p.col), abs(row-p.row))
				v = max(v, p.height-0.02*float32(d))
			}
			g.Set(col, row, v)
		}
	}
	return g
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestHaversineKm(t *testing.T) {
	d := query.HaversineKm(domain.Location{Lat: 0, Lon: 0}, domain.Location{Lat: 0, Lon: 1})
	assert.InDelta(t, 111.195, d, 0.01)
	assert.Zero(t, query.HaversineKm(domain.Location{Lat: 10, Lon: 10}, domain.Location{Lat: 10, Lon: 10}))
}

func TestDetect_SingleMaximum(t *testing.T) {
	hs, err := query.Detector{MinSeparationKm: 100}.Detect(context.Background(), cones(peak{20, 20, 0.9}), 10)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, 1, hs[0].Rank)
	assert.InDelta(t, 0.9, hs[0].TCHIScore, 1e-6)
	assert.InDelta(t, -77.95, hs[0].Lon, 1e-9)
	assert.InDelta(t, 25.95, hs[0].Lat, 1e-9)
}

func TestDetect_SuppressesNearbyPeaks(t *testing.T) {
	// About 40 km apart.
	g := cones(peak{10, 10, 0.8}, peak{14, 10, 0.75})

	hs, err := query.Detector{MinSeparationKm: 100}.Detect(context.Background(), g, 10)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.InDelta(t, 0.8, hs[0].TCHIScore, 1e-6)

	hs, err = query.Detector{MinSeparationKm: 10}.Detect(context.Background(), g, 10)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, []int{1, 2}, []int{hs[0].Rank, hs[1].Rank})
	assert.Greater(t, hs[0].TCHIScore, hs[1].TCHIScore)
}

func TestDetect_NeverCloserThanSeparation(t *testing.T) {
	var peaks []peak
	for i := range 12 {
		peaks = append(peaks, peak{col: (i * 7) % 38, row: (i * 11) % 38, height: 0.5 + 0.03*float32(i%5)})
	}
	const sep = 60
	hs, err := query.Detector{MinSeparationKm: sep}.Detect(context.Background(), cones(peaks...), 50)
	require.NoError(t, err)
	require.NotEmpty(t, hs)
	for i := range hs {
		for j := i + 1; j < len(hs); j++ {
			a := domain.Location{Lat: hs[i].Lat, Lon: hs[i].Lon}
			b := domain.Location{Lat: hs[j].Lat, Lon: hs[j].Lon}
			assert.GreaterOrEqual(t, query.HaversineKm(a, b), float64(sep))
		}
		if i > 0 {
			assert.LessOrEqual(t, hs[i].TCHIScore, hs[i-1].TCHIScore)
		}
	}
}

func TestDetect_TiesKeepScanOrder(t *testing.T) {
	g := cones(peak{30, 30, 0.6}, peak{5, 5, 0.6})
	hs, err := query.Detector{MinSeparationKm: 10}.Detect(context.Background(), g, 10)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	// Row 5 is scanned before row 30.
	assert.InDelta(t, 27.45, hs[0].Lat, 1e-9)
}

func TestDetect_LimitsAndEmptyRasters(t *testing.T) {
	g := cones(peak{5, 5, 0.9}, peak{30, 30, 0.8}, peak{5, 30, 0.7})
	hs, err := query.Detector{MinSeparationKm: 10}.Detect(context.Background(), g, 2)
	require.NoError(t, err)
	assert.Len(t, hs, 2)

	hs, err = query.Detector{MinSeparationKm: 10}.Detect(context.Background(), cones(), 10)
	require.NoError(t, err)
	assert.Empty(t, hs, "an all-zero raster has no hotspots")

}

func TestDetect_UniformRasterYieldsFirstPixel(t *testing.T) {
	flat := cones()
	for i := range flat.Data {
		flat.Data[i] = 0.4
	}
	hs, err := query.Detector{MinSeparationKm: 10}.Detect(context.Background(), flat, 10)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.InDelta(t, 0.4, hs[0].TCHIScore, 1e-6)
	assert.InDelta(t, -79.95, hs[0].Lon, 1e-9)
	assert.InDelta(t, 27.95, hs[0].Lat, 1e-9)
}

func TestDetect_PlateauTopCountsOnce(t *testing.T) {
	g := cones(peak{20, 20, 0.5})
	// A 3×3 high plateau below and right of the cone.
	for row := 30; row < 33; row++ {
		for col := 30; col < 33; col++ {
			g.Set(col, row, 0.9)
		}
	}
	hs, err := query.Detector{MinSeparationKm: 1}.Detect(context.Background(), g, 10)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.InDelta(t, 0.9, hs[0].TCHIScore, 1e-6)
	assert.InDelta(t, -76.95, hs[0].Lon, 1e-9)
	assert.InDelta(t, 24.95, hs[0].Lat, 1e-9)
	assert.InDelta(t, 0.5, hs[1].TCHIScore, 1e-6)
}

func TestDetect_IgnoresNoData(t *testing.T) {
	g := cones(peak{20, 20, 0.9})
	g.Set(20, 20, raster.NoData)
	hs, err := query.Detector{MinSeparationKm: 100}.Detect(context.Background(), g, 10)
	require.NoError(t, err)
	// The ring around the hole takes over; its first pixel in scan order wins.
	require.Len(t, hs, 1)
	assert.InDelta(t, 0.88, hs[0].TCHIScore, 1e-6)
	assert.InDelta(t, -78.05, hs[0].Lon, 1e-9)
	assert.InDelta(t, 26.05, hs[0].Lat, 1e-9)
}

func TestClampCount(t *testing.T) {
	assert.Equal(t, query.DefaultHotspotCount, query.ClampCount(0))
	assert.Equal(t, query.DefaultHotspotCount, query.ClampCount(-3))
	assert.Equal(t, 1, query.ClampCount(1))
	assert.Equal(t, query.MaxHotspotCount, query.ClampCount(500))
}

type memCache struct {
	entries map[string][]domain.Hotspot
	sets    int
}

func (c *memCache) key(d domain.Date, n int) string { return fmt.Sprintf("%s/%d", d, n) }

func (c *memCache) Get(_ context.Context, d domain.Date, n int) ([]domain.Hotspot, bool, error) {
	hs, ok := c.entries[c.key(d, n)]
	return hs, ok, nil
}

func (c *memCache) Set(_ context.Context, d domain.Date, n int, hs []domain.Hotspot) error {
	c.sets++
	c.entries[c.key(d, n)] = hs
	return nil
}

type fakeGeocoder struct {
	calls int
	fail  map[int]bool
}

func (g *fakeGeocoder) ReverseGeocode(_ context.Context, lat, _ float64) (domain.GeocodingResult, error) {
	g.calls++
	if g.fail[g.calls] {
		return domain.GeocodingResult{}, errors.New("quota exceeded")
	}
	if lat > 27 {
		return domain.GeocodingResult{PlaceName: "Straits of Florida"}, nil
	}
	return domain.GeocodingResult{}, nil
}

func newHotspotService(t *testing.T, opts query.HotspotOptions) (*query.HotspotService, catalog.Layout, *observability.Metrics) {
	t.Helper()
	root := t.TempDir()
	layout := catalog.Layout{RawDir: filepath.Join(root, "raw"), ProcessedDir: filepath.Join(root, "processed")}
	g := cones(peak{5, 5, 0.9}, peak{30, 30, 0.8}, peak{5, 30, 0.7})
	writeLayer(t, layout, day1, domain.LayerTCHI, g)
	m := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return query.NewHotspotService(layout, raster.FileLoader{}, opts, logger, m), layout, m
}

func TestHotspotService_Find(t *testing.T) {
	cache := &memCache{entries: map[string][]domain.Hotspot{}}
	geo := &fakeGeocoder{fail: map[int]bool{2: true}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, _, m := newHotspotService(t, query.HotspotOptions{
		DefaultCount:    10,
		MinSeparationKm: 100,
		NamedCount:      2,
		Cache:           cache,
		Namer:           query.NewNamer(geo, logger),
	})

	hs, err := svc.Find(context.Background(), day1, 0)
	require.NoError(t, err)
	require.Len(t, hs, 3)
	assert.Equal(t, "Straits of Florida", hs[0].Name)
	assert.Equal(t, "Hotspot #2", hs[1].Name, "failed lookup falls back to the rank")
	assert.Empty(t, hs[2].Name, "only the top hotspots are named")
	assert.Equal(t, 2, geo.calls)
	assert.Equal(t, 1, cache.sets)

	again, err := svc.Find(context.Background(), day1, 10)
	require.NoError(t, err)
	if diff := cmp.Diff(hs, again); diff != "" {
		t.Errorf("cached result differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 2, geo.calls, "cache hit skips naming")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hotspot", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HotspotQueries.WithLabelValues("ok")))
}

func TestHotspotService_Errors(t *testing.T) {
	svc, _, m := newHotspotService(t, query.HotspotOptions{MinSeparationKm: 100})

	_, err := svc.Find(context.Background(), day2, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HotspotQueries.WithLabelValues("not_found")))

	_, err = svc.Find(context.Background(), domain.Date{}, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHotspotService_WithoutCacheOrNamer(t *testing.T) {
	svc, _, _ := newHotspotService(t, query.HotspotOptions{DefaultCount: 2, MinSeparationKm: 100})
	hs, err := svc.Find(context.Background(), day1, 0)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	for _, h := range hs {
		assert.Empty(t, h.Name)
	}
}
