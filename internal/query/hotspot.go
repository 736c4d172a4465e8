package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// Hotspot count limits.
const (
	DefaultHotspotCount = 10
	MaxHotspotCount     = 50
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b domain.Location) float64 {
	const rad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Detector finds separated local maxima of a composite raster.
type Detector struct {
	MinSeparationKm float64
}

type candidate struct {
	col, row int
	value    float32
}

// Detect returns up to k hotspots ranked by descending score. A candidate
// is a positive pixel at least as high as every valid 8-neighbour. On a
// plateau only the first pixel in row-major scan order qualifies. Candidates
// within MinSeparationKm of a better accepted hotspot are dropped, and
// fewer than k are returned when the raster has fewer separated peaks.
func (d Detector) Detect(ctx context.Context, g *raster.Grid, k int) ([]domain.Hotspot, error) {
	if k < 1 {
		return nil, nil
	}
	rule := domain.NoDataFor(domain.LayerTCHI)
	valid := func(col, row int) (float32, bool) {
		if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
			return 0, false
		}
		v := g.At(col, row)
		return v, g.ValidUnder(v, rule)
	}

	var candidates []candidate
	for row := range g.Height {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := range g.Width {
			v, ok := valid(col, row)
			if !ok || v <= 0 {
				continue
			}
			if isPeak(v, col, row, valid) {
				candidates = append(candidates, candidate{col: col, row: row, value: v})
			}
		}
	}
	// Stable, so equal scores keep row-major scan order.
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		}
		return 0
	})

	toWGS84, err := raster.NewTransformer(g.CRS, raster.WGS84)
	if err != nil {
		return nil, err
	}
	var accepted []domain.Hotspot
	for _, c := range candidates {
		if len(accepted) == k {
			break
		}
		x, y := g.PixelCenter(c.col, c.row)
		lon, lat, err := toWGS84(x, y)
		if err != nil {
			continue
		}
		loc := domain.Location{Lat: lat, Lon: lon}
		if d.tooClose(loc, accepted) {
			continue
		}
		accepted = append(accepted, domain.Hotspot{
			Lat:       lat,
			Lon:       lon,
			TCHIScore: float64(c.value),
			Rank:      len(accepted) + 1,
		})
	}
	return accepted, nil
}

// isPeak reports whether no valid neighbour exceeds v and no equal
// neighbour was scanned before (col, row).
func isPeak(v float32, col, row int, valid func(col, row int) (float32, bool)) bool {
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n, ok := valid(col+dc, row+dr)
			if !ok {
				continue
			}
			if n > v {
				return false
			}
			if n == v && (dr < 0 || dr == 0 && dc < 0) {
				return false
			}
		}
	}
	return true
}

func (d Detector) tooClose(loc domain.Location, accepted []domain.Hotspot) bool {
	for _, h := range accepted {
		if HaversineKm(loc, domain.Location{Lat: h.Lat, Lon: h.Lon}) < d.MinSeparationKm {
			return true
		}
	}
	return false
}

// HotspotCache stores detected hotspots per date and count.
type HotspotCache interface {
	Get(ctx context.Context, date domain.Date, count int) ([]domain.Hotspot, bool, error)
	Set(ctx context.Context, date domain.Date, count int, hotspots []domain.Hotspot) error
}

// HotspotService detects, names and caches hotspots of a date's composite.
type HotspotService struct {
	layout       catalog.Layout
	loader       raster.Loader
	detector     Detector
	defaultCount int
	cache        HotspotCache
	namer        *Namer
	namedCount   int
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// HotspotOptions configures a HotspotService. Cache and Namer are optional.
type HotspotOptions struct {
	DefaultCount    int
	MinSeparationKm float64
	NamedCount      int
	Cache           HotspotCache
	Namer           *Namer
}

// NewHotspotService creates a HotspotService.
func NewHotspotService(layout catalog.Layout, loader raster.Loader, opts HotspotOptions, logger *slog.Logger, metrics *observability.Metrics) *HotspotService {
	return &HotspotService{
		layout:       layout,
		loader:       loader,
		detector:     Detector{MinSeparationKm: opts.MinSeparationKm},
		defaultCount: ClampCount(opts.DefaultCount),
		cache:        opts.Cache,
		namer:        opts.Namer,
		namedCount:   opts.NamedCount,
		logger:       logger,
		metrics:      metrics,
	}
}

// ClampCount maps a requested count into [1, MaxHotspotCount]; zero or
// negative selects DefaultHotspotCount.
func ClampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultHotspotCount
	case n > MaxHotspotCount:
		return MaxHotspotCount
	}
	return n
}

// Find returns the hotspots of date's composite. count <= 0 selects the
// configured default. A date without a composite wraps domain.ErrNotFound.
func (s *HotspotService) Find(ctx context.Context, date domain.Date, count int) ([]domain.Hotspot, error) {
	if date.IsZero() {
		s.metrics.HotspotQueries.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: date is required", domain.ErrInvalidInput)
	}
	if count <= 0 {
		count = s.defaultCount
	}
	count = ClampCount(count)

	if s.cache != nil {
		hs, ok, err := s.cache.Get(ctx, date, count)
		switch {
		case err != nil:
			s.logger.Warn("hotspot cache read failed", "date", date, "error", err)
		case ok:
			s.metrics.CacheLookups.WithLabelValues("hotspot", "hit").Inc()
			s.metrics.HotspotQueries.WithLabelValues("ok").Inc()
			return hs, nil
		default:
			s.metrics.CacheLookups.WithLabelValues("hotspot", "miss").Inc()
		}
	}

	g, err := s.loader.Load(s.layout.LayerPath(date, domain.LayerTCHI))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.HotspotQueries.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("composite for %s: %w", date, err)
		}
		s.metrics.HotspotQueries.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load composite for %s: %w", date, err)
	}

	hs, err := s.detector.Detect(ctx, g, count)
	if err != nil {
		s.metrics.HotspotQueries.WithLabelValues("error").Inc()
		return nil, err
	}
	if hs == nil {
		hs = []domain.Hotspot{}
	}
	if s.namer != nil {
		s.namer.Name(ctx, hs, s.namedCount)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, date, count, hs); err != nil {
			s.logger.Warn("hotspot cache write failed", "date", date, "error", err)
		}
	}
	s.metrics.HotspotQueries.WithLabelValues("ok").Inc()
	return hs, nil
}
