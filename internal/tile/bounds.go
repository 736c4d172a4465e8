// Package tile renders 256×256 PNG map tiles from processed layers.
package tile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// Size is the edge length of a rendered tile in pixels.
const Size = 256

// MaxZoom is the deepest supported zoom level.
const MaxZoom = 18

// Request identifies one tile of one layer on one date.
type Request struct {
	Date  domain.Date
	Layer domain.Layer
	Z     int
	X     int
	Y     int
}

// Validate checks the zoom level and that x and y lie in [0, 2^z).
func (r Request) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("%w: tile date is required", domain.ErrInvalidInput)
	}
	if r.Z < 0 || r.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0, %d]", domain.ErrInvalidInput, r.Z, MaxZoom)
	}
	n := 1 << r.Z
	if r.X < 0 || r.X >= n || r.Y < 0 || r.Y >= n {
		return fmt.Errorf("%w: tile %d/%d outside zoom %d", domain.ErrInvalidInput, r.X, r.Y, r.Z)
	}
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%s/%d/%d/%d", r.Date, r.Layer, r.Z, r.X, r.Y)
}

// ParseRequest builds a Request from URL path segments. y may carry a
// ".png" suffix.
func ParseRequest(date, layer, z, x, y string) (Request, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return Request{}, err
	}
	l, err := domain.ParseLayer(layer)
	if err != nil {
		return Request{}, err
	}
	var req Request
	req.Date, req.Layer = d, l
	for _, f := range []struct {
		name string
		in   string
		out  *int
	}{{"z", z, &req.Z}, {"x", x, &req.X}, {"y", strings.TrimSuffix(y, ".png"), &req.Y}} {
		n, err := strconv.Atoi(f.in)
		if err != nil {
			return Request{}, fmt.Errorf("%w: tile %s %q is not an integer", domain.ErrInvalidInput, f.name, f.in)
		}
		*f.out = n
	}
	return req, req.Validate()
}

// Bounds returns the WGS-84 box of tile (z, x, y) in the XYZ scheme:
// longitude is linear in x and latitude follows the Web Mercator inverse.
func Bounds(z, x, y int) raster.Bounds {
	n := math.Exp2(float64(z))
	lat := func(y float64) float64 {
		return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
	}
	return raster.Bounds{
		MinX: float64(x)/n*360 - 180,
		MaxX: float64(x+1)/n*360 - 180,
		MinY: lat(float64(y + 1)),
		MaxY: lat(float64(y)),
	}
}
