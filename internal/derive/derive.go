// Package derive computes layers that are functions of other harmonized
// layers: thermal front gradient and eddy kinetic energy.
package derive

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// kmPerDegree is the length of one degree of latitude, used to convert
// geographic pixel sizes to kilometres.
const kmPerDegree = 111.32

// FrontGradient returns the Horn 3×3 gradient magnitude of sst in °C per
// km. Neighbours past the edge replicate the edge pixel and an invalid
// neighbour is replaced by the centre value. Invalid centres stay no-data.
func FrontGradient(ctx context.Context, sst *raster.Grid) (*raster.Grid, error) {
	out := raster.NewLike(sst)
	rule := domain.NoDataFor(domain.LayerSST)
	w, h := sst.Width, sst.Height

	for row := range h {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("front gradient: %w", err)
		}
		dx, dy := pixelKm(sst, row)
		if dx <= 0 || dy <= 0 {
			continue
		}
		for col := range w {
			e := sst.At(col, row)
			if !sst.ValidUnder(e, rule) {
				continue
			}
			z := func(dc, dr int) float64 {
				c, r := clamp(col+dc, w), clamp(row+dr, h)
				v := sst.At(c, r)
				if !sst.ValidUnder(v, rule) {
					return float64(e)
				}
				return float64(v)
			}
			a, b, c := z(-1, -1), z(0, -1), z(1, -1)
			d, f := z(-1, 0), z(1, 0)
			g, hh, i := z(-1, 1), z(0, 1), z(1, 1)

			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / (8 * dx)
			// Rows run southward, so the northward derivative flips sign;
			// the magnitude is unaffected.
			dzdy := ((g + 2*hh + i) - (a + 2*b + c)) / (8 * dy)
			out.Set(col, row, float32(math.Hypot(dzdx, dzdy)))
		}
	}
	return out, nil
}

// pixelKm returns the pixel width and height in kilometres for row. For
// geographic grids the width shrinks with the cosine of latitude.
func pixelKm(g *raster.Grid, row int) (dx, dy float64) {
	gt := g.Transform
	if !g.CRS.Geographic() {
		return gt.PixelWidth / 1000, gt.PixelHeight / 1000
	}
	_, lat := g.PixelCenter(0, row)
	return gt.PixelWidth * kmPerDegree * math.Cos(lat*math.Pi/180), gt.PixelHeight * kmPerDegree
}

// EddyKineticEnergy returns 0.5·(u²+v²) per pixel. A pixel missing in
// either component is missing in the output.
func EddyKineticEnergy(ctx context.Context, u, v *raster.Grid) (*raster.Grid, error) {
	if err := raster.CheckLattice(u, map[string]*raster.Grid{"vgos": v}); err != nil {
		return nil, fmt.Errorf("eddy kinetic energy: %w", err)
	}
	uRule, vRule := domain.NoDataFor(domain.LayerUGOS), domain.NoDataFor(domain.LayerVGOS)
	out := raster.NewLike(u)
	for row := range u.Height {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("eddy kinetic energy: %w", err)
		}
		for col := range u.Width {
			a, b := u.At(col, row), v.At(col, row)
			if !u.ValidUnder(a, uRule) || !v.ValidUnder(b, vRule) {
				continue
			}
			ua, vb := float64(a), float64(b)
			out.Set(col, row, float32(0.5*(ua*ua+vb*vb)))
		}
	}
	return out, nil
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
