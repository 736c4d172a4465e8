package raster

import (
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Summarize computes statistics over the pixels valid under rule.
func Summarize(g *Grid, rule domain.NoDataRule) domain.LayerStats {
	vals := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if g.ValidUnder(v, rule) {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return domain.LayerStats{}
	}
	return domain.LayerStats{
		ValidPixels: len(vals),
		Min:         floats.Min(vals),
		Max:         floats.Max(vals),
		Mean:        floats.Sum(vals) / float64(len(vals)),
	}
}
