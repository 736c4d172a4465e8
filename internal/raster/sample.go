package raster

import (
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// Nearest returns the value of the pixel containing (x, y) and whether it is valid.
func (g *Grid) Nearest(x, y float64) (float32, bool) {
	col, row, ok := g.PixelOf(x, y)
	if !ok {
		return NoData, false
	}
	v := g.At(col, row)
	return v, g.Valid(v)
}

// Bilinear interpolates g at (x, y) from the four surrounding pixel
// centres. Neighbours past the edge replicate the edge pixel. When any
// contributing neighbour is invalid the nearest valid neighbour is used
// instead. A point on an invalid pixel centre stays invalid.
func (g *Grid) Bilinear(x, y float64) (float32, bool) {
	return g.bilinear(x, y, g.Valid)
}

// BilinearUnder is Bilinear with neighbours also screened by rule, so
// undeclared sentinels never blend into valid values.
func (g *Grid) BilinearUnder(x, y float64, rule domain.NoDataRule) (float32, bool) {
	return g.bilinear(x, y, func(v float32) bool { return g.ValidUnder(v, rule) })
}

func (g *Grid) bilinear(x, y float64, valid func(float32) bool) (float32, bool) {
	b := g.Bounds()
	if x < b.MinX || x > b.MaxX || y < b.MinY || y > b.MaxY {
		return NoData, false
	}
	gt := g.Transform
	fx := (x-gt.OriginX)/gt.PixelWidth - 0.5
	fy := (gt.OriginY-y)/gt.PixelHeight - 0.5
	c0, r0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(c0), fy-float64(r0)

	cols := [2]int{clamp(c0, g.Width), clamp(c0+1, g.Width)}
	rows := [2]int{clamp(r0, g.Height), clamp(r0+1, g.Height)}
	weights := [4]float64{(1 - tx) * (1 - ty), tx * (1 - ty), (1 - tx) * ty, tx * ty}

	var sum float64
	best, bestW := -1, 0.0
	var vals [4]float32
	allValid := true
	for i := range 4 {
		v := g.At(cols[i%2], rows[i/2])
		vals[i] = v
		if !valid(v) {
			allValid = false
			continue
		}
		sum += weights[i] * float64(v)
		if weights[i] > bestW {
			best, bestW = i, weights[i]
		}
	}
	switch {
	case allValid:
		return float32(sum), true
	case best >= 0:
		return vals[best], true
	}
	return NoData, false
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
