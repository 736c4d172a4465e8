// Package raster holds the in-memory grid model shared by every pipeline
// stage, plus the GeoTIFF and netCDF codecs that move grids on and off disk.
package raster

import (
	"fmt"
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// NoData is the sentinel written into every processed raster.
const NoData float32 = -9999

// GeoTransform places a north-up grid in its CRS. Origin is the outer
// top-left corner; rows advance southward by PixelHeight.
type GeoTransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// Bounds is an axis-aligned extent in CRS units.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Bounds) Empty() bool {
	return !(b.MaxX > b.MinX && b.MaxY > b.MinY)
}

// Intersect returns the overlap of b and o, which is Empty when they are disjoint.
func (b Bounds) Intersect(o Bounds) Bounds {
	return Bounds{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Grid is a single-band float32 raster.
type Grid struct {
	Width     int
	Height    int
	Data      []float32
	Transform GeoTransform
	CRS       CRS
	// NoData is the sentinel declared by the source file. HasNoData is false
	// when the file declared none.
	NoData    float32
	HasNoData bool
	// Units is informational; netCDF sources populate it from the variable's units attribute.
	Units string
}

// New allocates a w×h grid filled with the NoData sentinel.
func New(w, h int, gt GeoTransform, crs CRS) *Grid {
	data := make([]float32, w*h)
	for i := range data {
		data[i] = NoData
	}
	return &Grid{Width: w, Height: h, Data: data, Transform: gt, CRS: crs, NoData: NoData, HasNoData: true}
}

// NewLike allocates an empty grid on the same lattice as g.
func NewLike(g *Grid) *Grid {
	return New(g.Width, g.Height, g.Transform, g.CRS)
}

func (g *Grid) At(col, row int) float32 {
	return g.Data[row*g.Width+col]
}

func (g *Grid) Set(col, row int, v float32) {
	g.Data[row*g.Width+col] = v
}

// Valid reports whether v is a real sample: not NaN and not the declared sentinel.
func (g *Grid) Valid(v float32) bool {
	if v != v {
		return false
	}
	return !g.HasNoData || v != g.NoData
}

// ValidUnder applies the grid's own sentinel and then the layer rule.
func (g *Grid) ValidUnder(v float32, rule domain.NoDataRule) bool {
	return g.Valid(v) && !rule.IsNoData(float64(v))
}

func (g *Grid) Bounds() Bounds {
	gt := g.Transform
	return Bounds{
		MinX: gt.OriginX,
		MaxX: gt.OriginX + float64(g.Width)*gt.PixelWidth,
		MaxY: gt.OriginY,
		MinY: gt.OriginY - float64(g.Height)*gt.PixelHeight,
	}
}

// PixelCenter returns the CRS coordinate of the centre of (col, row).
func (g *Grid) PixelCenter(col, row int) (x, y float64) {
	gt := g.Transform
	return gt.OriginX + (float64(col)+0.5)*gt.PixelWidth, gt.OriginY - (float64(row)+0.5)*gt.PixelHeight
}

// PixelOf returns the pixel containing (x, y). The east and south outer
// edges belong to the last column and row.
func (g *Grid) PixelOf(x, y float64) (col, row int, ok bool) {
	gt := g.Transform
	fc := (x - gt.OriginX) / gt.PixelWidth
	fr := (gt.OriginY - y) / gt.PixelHeight
	if fc < 0 || fr < 0 || fc > float64(g.Width) || fr > float64(g.Height) {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col == g.Width {
		col--
	}
	if row == g.Height {
		row--
	}
	return col, row, true
}

// SameLattice reports whether o has identical size, CRS and pixel placement.
func (g *Grid) SameLattice(o *Grid) bool {
	if g.Width != o.Width || g.Height != o.Height || g.CRS.EPSG != o.CRS.EPSG {
		return false
	}
	a, b := g.Transform, o.Transform
	tol := math.Abs(a.PixelWidth) * 1e-6
	return math.Abs(a.OriginX-b.OriginX) <= tol &&
		math.Abs(a.OriginY-b.OriginY) <= tol &&
		math.Abs(a.PixelWidth-b.PixelWidth) <= tol &&
		math.Abs(a.PixelHeight-b.PixelHeight) <= tol
}

// CheckLattice returns ErrGridMismatch naming the first grid off g's lattice.
func CheckLattice(g *Grid, others map[string]*Grid) error {
	for name, o := range others {
		if !g.SameLattice(o) {
			return fmt.Errorf("%w: %s is %dx%d at (%g, %g) step %g, want %dx%d at (%g, %g) step %g",
				domain.ErrGridMismatch, name, o.Width, o.Height, o.Transform.OriginX, o.Transform.OriginY,
				o.Transform.PixelWidth, g.Width, g.Height, g.Transform.OriginX, g.Transform.OriginY, g.Transform.PixelWidth)
		}
	}
	return nil
}
