// Package model maps harmonized environmental layers to [0,1] habitat
// suitability and combines them into the composite index.
package model

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// Transform scores a factor value. Results outside [0,1] are clamped by the caller.
type Transform func(a float64) float64

func gaussian(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

// Transforms holds the suitability curve for each factor:
//
//	sst    Gaussian around 15.5 °C, σ 6
//	chla   log-normal around 1 mg/m³, σ 1 in ln space
//	tfg    saturating 1 − e^(−0.5·A) in °C/km
//	eke    saturating 1 − e^(−0.015·A) in cm²/s²
//	bathy  log-normal around e^5.3 ≈ 200 m, σ 0.8 in ln space
var Transforms = map[domain.Factor]Transform{
	domain.FactorSST:   func(a float64) float64 { return gaussian(a, 15.5, 6.0) },
	domain.FactorChla:  func(a float64) float64 { return gaussian(math.Log(a+1e-6), 0, 1.0) },
	domain.FactorTFG:   func(a float64) float64 { return 1 - math.Exp(-0.5*a) },
	domain.FactorEKE:   func(a float64) float64 { return 1 - math.Exp(-0.015*a) },
	domain.FactorBathy: func(a float64) float64 { return gaussian(math.Log(a+1), 5.3, 0.8) },
}

// Score applies the factor's transform to one value. ok is false when the
// result is undefined, such as the log of a negative chlorophyll value.
func Score(f domain.Factor, a float64) (s float64, ok bool) {
	t, found := Transforms[f]
	if !found {
		return 0, false
	}
	s = t(a)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	return min(1, max(0, s)), true
}

// Suitability scores every valid pixel of in. No-data in the input, under
// the factor layer's rule, stays no-data in the output.
func Suitability(ctx context.Context, f domain.Factor, in *raster.Grid) (*raster.Grid, error) {
	if _, ok := Transforms[f]; !ok {
		return nil, fmt.Errorf("%w: unknown factor %q", domain.ErrInvalidInput, f)
	}
	rule := domain.NoDataFor(f.Layer())
	out := raster.NewLike(in)
	for row := range in.Height {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("suitability %s: %w", f, err)
		}
		for col := range in.Width {
			v := in.At(col, row)
			if !in.ValidUnder(v, rule) {
				continue
			}
			if s, ok := Score(f, float64(v)); ok {
				out.Set(col, row, float32(s))
			}
		}
	}
	return out, nil
}
