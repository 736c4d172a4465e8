// Package query answers point, date and hotspot queries against the
// processed rasters.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// DataSource labels point series metadata.
const DataSource = "TCHI processed rasters"

const emptySeriesMessage = "No data available for this location. This may be a land area, " +
	"outside data coverage, or in a region with no valid measurements."

// PointService builds per-location time series from completed dates.
type PointService struct {
	layout  catalog.Layout
	loader  raster.Loader
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPointService creates a PointService reading rasters through loader.
func NewPointService(layout catalog.Layout, loader raster.Loader, logger *slog.Logger, metrics *observability.Metrics) *PointService {
	return &PointService{layout: layout, loader: loader, logger: logger, metrics: metrics}
}

// Dates lists the dates with a composite, ascending.
func (s *PointService) Dates(_ context.Context) ([]domain.Date, error) {
	return s.layout.CompletedDates()
}

// CheckReadiness reports whether the processed directory can be listed.
func (s *PointService) CheckReadiness(_ context.Context) error {
	if _, err := s.layout.Dates(); err != nil {
		return fmt.Errorf("processed data unavailable: %w", err)
	}
	return nil
}

// Query returns the composite and factor values at (lat, lon) for every
// date whose composite is valid there. A location with no valid date
// yields an empty series, not an error.
func (s *PointService) Query(ctx context.Context, lat, lon float64) (domain.Series, error) {
	loc := domain.Location{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		s.metrics.PointQueries.WithLabelValues("invalid").Inc()
		return domain.Series{}, err
	}

	dates, err := s.layout.CompletedDates()
	if err != nil {
		s.metrics.PointQueries.WithLabelValues("error").Inc()
		return domain.Series{}, fmt.Errorf("list dates: %w", err)
	}

	series := domain.Series{Location: loc, TimeSeries: []domain.TimeSeriesPoint{}}
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			s.metrics.PointQueries.WithLabelValues("error").Inc()
			return domain.Series{}, err
		}
		score, ok := s.sample(d, domain.LayerTCHI, loc)
		if !ok {
			continue
		}
		p := domain.TimeSeriesPoint{Date: d, TCHIScore: score}
		for _, f := range domain.Factors {
			if v, ok := s.sample(d, f.Layer(), loc); ok {
				p.Factors.Set(f, &v)
			}
		}
		series.TimeSeries = append(series.TimeSeries, p)
	}

	series.Metadata = domain.SeriesMetadata{
		TotalDates:  len(series.TimeSeries),
		GeneratedAt: domain.Now(),
		DataSource:  DataSource,
	}
	if n := len(series.TimeSeries); n > 0 {
		series.Metadata.DateRange = &domain.DateSpan{Start: series.TimeSeries[0].Date, End: series.TimeSeries[n-1].Date}
		s.metrics.PointQueries.WithLabelValues("ok").Inc()
	} else {
		series.Metadata.Message = emptySeriesMessage
		s.metrics.PointQueries.WithLabelValues("empty").Inc()
	}
	return series, nil
}

// sample reads the nearest pixel of layer at loc. Missing or unreadable
// rasters and no-data pixels are reported as not ok.
func (s *PointService) sample(d domain.Date, layer domain.Layer, loc domain.Location) (float64, bool) {
	path := s.layout.LayerPath(d, layer)
	g, err := s.loader.Load(path)
	if err != nil {
		s.logger.Debug("layer unavailable", "date", d, "layer", layer, "error", err)
		return 0, false
	}
	v, ok := NearestWGS84(g, loc)
	if !ok || !g.ValidUnder(v, domain.NoDataFor(layer)) {
		return 0, false
	}
	return float64(v), true
}

// NearestWGS84 samples the pixel of g containing a WGS-84 location.
func NearestWGS84(g *raster.Grid, loc domain.Location) (float32, bool) {
	x, y := loc.Lon, loc.Lat
	if g.CRS.EPSG != raster.WGS84.EPSG {
		fwd, err := raster.NewTransformer(raster.WGS84, g.CRS)
		if err != nil {
			return raster.NoData, false
		}
		if x, y, err = fwd(x, y); err != nil {
			return raster.NoData, false
		}
	}
	return g.Nearest(x, y)
}
