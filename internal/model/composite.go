package model

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// Weights are the composite exponents per factor. They sum to 1.
var Weights = map[domain.Factor]float64{
	domain.FactorSST:   0.28,
	domain.FactorChla:  0.10,
	domain.FactorTFG:   0.20,
	domain.FactorEKE:   0.10,
	domain.FactorBathy: 0.32,
}

// CompositeScore combines one pixel's suitabilities. Factors are visited in
// domain.Factors order so the floating-point result is independent of how
// the caller assembled the map.
func CompositeScore(s map[domain.Factor]float64) (float64, bool) {
	out := 1.0
	for _, f := range domain.Factors {
		v, ok := s[f]
		if !ok || math.IsNaN(v) {
			return 0, false
		}
		out *= math.Pow(v, Weights[f])
	}
	return out, true
}

// Composite computes the weighted geometric mean of the five suitability
// rasters. Any pixel missing in one factor is missing in the output.
func Composite(ctx context.Context, inputs map[domain.Factor]*raster.Grid) (*raster.Grid, error) {
	grids := make([]*raster.Grid, len(domain.Factors))
	rules := make([]domain.NoDataRule, len(domain.Factors))
	others := make(map[string]*raster.Grid, len(domain.Factors))
	for i, f := range domain.Factors {
		g, ok := inputs[f]
		if !ok || g == nil {
			return nil, fmt.Errorf("%w: composite is missing the %s suitability", domain.ErrInvalidInput, f)
		}
		grids[i] = g
		rules[i] = domain.NoDataFor(f.SuitabilityLayer())
		others[string(f.SuitabilityLayer())] = g
	}
	ref := grids[0]
	if err := raster.CheckLattice(ref, others); err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}

	out := raster.NewLike(ref)
	for row := range ref.Height {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("composite: %w", err)
		}
	pixels:
		for col := range ref.Width {
			idx := 1.0
			for i, g := range grids {
				v := g.At(col, row)
				if !g.ValidUnder(v, rules[i]) {
					continue pixels
				}
				idx *= math.Pow(float64(v), Weights[domain.Factors[i]])
			}
			out.Set(col, row, float32(idx))
		}
	}
	return out, nil
}
