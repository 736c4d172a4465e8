// Package harmonize reprojects and resamples source rasters onto the
// shared processing lattice.
package harmonize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// SourceRef names an input raster: a GeoTIFF path, or a netCDF path plus
// the variable holding the band.
type SourceRef struct {
	Path     string
	Variable string
	// Layer selects the no-data rule applied on top of the file's declared
	// fill value. Empty means the standard 16-bit rule.
	Layer domain.Layer
}

func (s SourceRef) String() string {
	if s.Variable == "" {
		return s.Path
	}
	return "NETCDF:" + s.Path + ":" + s.Variable
}

// Target describes the output lattice. Without Bounds the output covers
// the source extent snapped outward onto multiples of Resolution, so
// independently harmonized layers line up pixel for pixel.
type Target struct {
	CRS        raster.CRS
	Resolution float64
	Bounds     *raster.Bounds
}

// Validate rejects a non-positive resolution and empty bounds.
func (t Target) Validate() error {
	if !(t.Resolution > 0) {
		return fmt.Errorf("%w: target resolution %v must be positive", domain.ErrInvalidInput, t.Resolution)
	}
	if t.Bounds != nil && t.Bounds.Empty() {
		return fmt.Errorf("%w: target bounds %+v are empty", domain.ErrInvalidInput, *t.Bounds)
	}
	return nil
}

// Harmonizer reads a source, normalises its units and warps it onto a target lattice.
type Harmonizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Harmonizer {
	return &Harmonizer{logger: logger}
}

// edgeSamples is the number of points per side used to transform the
// source extent into the target CRS.
const edgeSamples = 21

// Harmonize produces src on target. When outPath is non-empty the result
// is also written there atomically. Safe for concurrent use with distinct
// output paths.
func (h *Harmonizer) Harmonize(ctx context.Context, src SourceRef, target Target, norm Normalizer, outPath string) (*raster.Grid, error) {
	start := time.Now()
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if norm == nil {
		norm = Identity
	}

	in, err := load(src)
	if err != nil {
		return nil, err
	}
	rule := domain.NoDataFor(src.Layer)
	normalize(in, norm, rule)

	fwd, err := raster.NewTransformer(in.CRS, target.CRS)
	if err != nil {
		return nil, fmt.Errorf("harmonize %s: %w", src, err)
	}
	inv, err := raster.NewTransformer(target.CRS, in.CRS)
	if err != nil {
		return nil, fmt.Errorf("harmonize %s: %w", src, err)
	}

	extent, err := outputExtent(in, fwd, target)
	if err != nil {
		return nil, fmt.Errorf("harmonize %s: %w", src, err)
	}
	res := target.Resolution
	w := int(math.Round((extent.MaxX - extent.MinX) / res))
	ht := int(math.Round((extent.MaxY - extent.MinY) / res))
	if w <= 0 || ht <= 0 {
		return nil, fmt.Errorf("harmonize %s: %w", src, domain.ErrNoOverlap)
	}
	out := raster.New(w, ht, raster.GeoTransform{
		OriginX: extent.MinX, OriginY: extent.MaxY, PixelWidth: res, PixelHeight: res,
	}, target.CRS)

	wrap := in.CRS.Geographic()
	srcBounds := in.Bounds()
	valid := 0
	for row := range ht {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("harmonize %s: %w", src, err)
		}
		for col := range w {
			x, y := out.PixelCenter(col, row)
			sx, sy, err := inv(x, y)
			if err != nil {
				continue
			}
			if wrap {
				sx = wrapLongitude(sx, srcBounds)
			}
			if v, ok := in.BilinearUnder(sx, sy, rule); ok {
				out.Set(col, row, v)
				valid++
			}
		}
	}

	if outPath != "" {
		if err := raster.WriteFileAtomic(outPath, out); err != nil {
			return nil, fmt.Errorf("harmonize %s: %w", src, err)
		}
	}
	h.logger.Debug("harmonized source",
		"source", src.String(),
		"source_crs", in.CRS.String(),
		"width", w,
		"height", ht,
		"valid_pixels", valid,
		"duration", time.Since(start),
	)
	return out, nil
}

func load(src SourceRef) (*raster.Grid, error) {
	switch strings.ToLower(filepath.Ext(src.Path)) {
	case ".nc", ".nc4", ".netcdf", ".cdf":
		if src.Variable == "" {
			return nil, fmt.Errorf("%w: netCDF source %s needs a variable", domain.ErrInvalidInput, src.Path)
		}
		return raster.ReadNetCDF(src.Path, src.Variable)
	case ".tif", ".tiff", ".gtiff":
		return raster.ReadGeoTIFF(src.Path)
	}
	return nil, fmt.Errorf("%w: unrecognised raster format %s", domain.ErrInvalidInput, src.Path)
}

// normalize rewrites valid samples into processed units and folds into
// raster.NoData the source's declared sentinel, the rule's markers on raw
// values, and converted values the rule rejects. The Below threshold is
// only applied after conversion so deep elevations survive.
func normalize(g *raster.Grid, norm Normalizer, rule domain.NoDataRule) {
	for i, v := range g.Data {
		if !g.Valid(v) || rule.IsSentinel(float64(v)) {
			g.Data[i] = raster.NoData
			continue
		}
		out, ok := norm(g.Units, float64(v))
		if !ok || rule.IsNoData(out) {
			g.Data[i] = raster.NoData
			continue
		}
		g.Data[i] = float32(out)
	}
	g.NoData, g.HasNoData = raster.NoData, true
}

// outputExtent returns the output bounds in target CRS units.
func outputExtent(in *raster.Grid, fwd raster.Transformer, target Target) (raster.Bounds, error) {
	srcExtent, ok := transformBounds(in.Bounds(), fwd)
	if !ok {
		return raster.Bounds{}, domain.ErrNoOverlap
	}
	if target.CRS.Geographic() && srcExtent.MaxX > 180 {
		// Sources on 0..360 longitudes wrap the antimeridian.
		srcExtent.MinX, srcExtent.MaxX = -180, 180
	}

	if target.Bounds != nil {
		if target.Bounds.Intersect(srcExtent).Empty() {
			return raster.Bounds{}, domain.ErrNoOverlap
		}
		return *target.Bounds, nil
	}

	res := target.Resolution
	b := raster.Bounds{
		MinX: math.Floor(srcExtent.MinX/res+1e-9) * res,
		MinY: math.Floor(srcExtent.MinY/res+1e-9) * res,
		MaxX: math.Ceil(srcExtent.MaxX/res-1e-9) * res,
		MaxY: math.Ceil(srcExtent.MaxY/res-1e-9) * res,
	}
	if target.CRS.Geographic() {
		b = b.Intersect(raster.Bounds{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90})
	}
	if b.Empty() {
		return raster.Bounds{}, domain.ErrNoOverlap
	}
	return b, nil
}

// transformBounds maps b through t by sampling its edges and returns the
// bounding box of every point that transformed successfully.
func transformBounds(b raster.Bounds, t raster.Transformer) (raster.Bounds, bool) {
	out := raster.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	n := 0
	add := func(x, y float64) {
		tx, ty, err := t(x, y)
		if err != nil || math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
			return
		}
		out.MinX, out.MaxX = math.Min(out.MinX, tx), math.Max(out.MaxX, tx)
		out.MinY, out.MaxY = math.Min(out.MinY, ty), math.Max(out.MaxY, ty)
		n++
	}
	for i := range edgeSamples {
		f := float64(i) / float64(edgeSamples-1)
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		add(x, b.MinY)
		add(x, b.MaxY)
		add(b.MinX, y)
		add(b.MaxX, y)
	}
	return out, n > 0
}

// wrapLongitude shifts x by whole turns when that brings it inside a
// geographic source's extent.
func wrapLongitude(x float64, b raster.Bounds) float64 {
	if x >= b.MinX && x <= b.MaxX {
		return x
	}
	for _, shifted := range []float64{x + 360, x - 360} {
		if shifted >= b.MinX && shifted <= b.MaxX {
			return shifted
		}
	}
	return x
}
