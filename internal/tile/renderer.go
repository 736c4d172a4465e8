package tile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Options configures a Renderer.
type Options struct {
	// TempDir holds per-render scratch directories. Empty uses os.TempDir.
	TempDir string
	// CacheDir, when set, keeps rendered tiles as <date>/<layer>/<z>/<x>/<y>.png.
	CacheDir string
}

// Renderer produces PNG tiles. Any failure yields a blank transparent tile.
type Renderer struct {
	layout  catalog.Layout
	loader  raster.Loader
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRenderer creates a Renderer reading rasters through loader.
func NewRenderer(layout catalog.Layout, loader raster.Loader, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Renderer {
	return &Renderer{layout: layout, loader: loader, opts: opts, logger: logger, metrics: metrics}
}

var blankTile = sync.OnceValue(func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, Size, Size))); err != nil {
		panic(err)
	}
	return buf.Bytes()
})

// Blank returns the transparent tile served for every failed request.
func Blank() []byte { return blankTile() }

// Render returns the PNG for req. It never fails: invalid requests,
// missing rasters and tiles outside the data come back blank.
func (r *Renderer) Render(ctx context.Context, req Request) []byte {
	start := time.Now()
	defer func() { r.metrics.TileDuration.Observe(time.Since(start).Seconds()) }()

	b, cached, err := r.render(ctx, req)
	switch {
	case err != nil:
		r.logger.Debug("serving blank tile", "tile", req.String(), "error", err)
		r.metrics.Tiles.WithLabelValues("blank").Inc()
		return Blank()
	case cached:
		r.metrics.Tiles.WithLabelValues("cached").Inc()
	default:
		r.metrics.Tiles.WithLabelValues("rendered").Inc()
	}
	return b
}

func (r *Renderer) render(ctx context.Context, req Request) ([]byte, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	ramp, ok := RampFor(req.Layer)
	if !ok {
		return nil, false, fmt.Errorf("%w: layer %s has no colour ramp", domain.ErrInvalidInput, req.Layer)
	}

	cachePath := r.cachePath(req)
	if cachePath != "" {
		if b, err := os.ReadFile(cachePath); err == nil {
			return b, true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("tile cache read failed", "path", cachePath, "error", err)
		}
	}

	g, err := r.loader.Load(r.layout.LayerPath(req.Date, req.Layer))
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	img, err := Draw(g, req, ramp)
	if err != nil {
		return nil, false, err
	}

	scratch, err := os.MkdirTemp(r.opts.TempDir, "tile-*")
	if err != nil {
		return nil, false, fmt.Errorf("scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false, fmt.Errorf("encode png: %w", err)
	}
	if cachePath != "" {
		r.store(scratch, cachePath, buf.Bytes())
	}
	return buf.Bytes(), false, nil
}

// store writes the tile into scratch and renames it into the cache, so a
// concurrent reader never sees a partial file. Failures only cost the cache entry.
func (r *Renderer) store(scratch, cachePath string, b []byte) {
	tmp := filepath.Join(scratch, "tile.png")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		r.logger.Warn("tile scratch write failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		r.logger.Warn("tile cache directory failed", "error", err)
		return
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		r.logger.Warn("tile cache write failed", "path", cachePath, "error", err)
	}
}

func (r *Renderer) cachePath(req Request) string {
	if r.opts.CacheDir == "" {
		return ""
	}
	return filepath.Join(r.opts.CacheDir, req.Date.String(), string(req.Layer),
		strconv.Itoa(req.Z), strconv.Itoa(req.X), strconv.Itoa(req.Y)+".png")
}

// Draw clips g to the tile's box, colours the window with ramp and
// resamples it bilinearly onto a Size×Size image. No-data pixels are
// transparent. A tile outside the raster is an error.
func Draw(g *raster.Grid, req Request, ramp Ramp) (*image.NRGBA, error) {
	box, err := boxIn(g.CRS, Bounds(req.Z, req.X, req.Y))
	if err != nil {
		return nil, err
	}
	if box.Intersect(g.Bounds()).Empty() {
		return nil, fmt.Errorf("%w: tile %s outside raster", domain.ErrNotFound, req)
	}
	gt := g.Transform
	c0 := max(0, int(math.Floor((box.MinX-gt.OriginX)/gt.PixelWidth))-1)
	c1 := min(g.Width, int(math.Ceil((box.MaxX-gt.OriginX)/gt.PixelWidth))+1)
	r0 := max(0, int(math.Floor((gt.OriginY-box.MaxY)/gt.PixelHeight))-1)
	r1 := min(g.Height, int(math.Ceil((gt.OriginY-box.MinY)/gt.PixelHeight))+1)
	if c0 >= c1 || r0 >= r1 {
		return nil, fmt.Errorf("%w: tile %s outside raster", domain.ErrNotFound, req)
	}

	rule := domain.NoDataFor(req.Layer)
	src := image.NewNRGBA(image.Rect(0, 0, c1-c0, r1-r0))
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			v := g.At(col, row)
			if !g.ValidUnder(v, rule) {
				continue
			}
			src.SetNRGBA(col-c0, row-r0, ramp.Color(float64(v)))
		}
	}

	// Source pixel (0, 0) sits at window origin (wx, wy) in raster units.
	wx := gt.OriginX + float64(c0)*gt.PixelWidth
	wy := gt.OriginY - float64(r0)*gt.PixelHeight
	sx := Size / (box.MaxX - box.MinX)
	sy := Size / (box.MaxY - box.MinY)
	s2d := f64.Aff3{
		gt.PixelWidth * sx, 0, (wx - box.MinX) * sx,
		0, gt.PixelHeight * sy, (box.MaxY - wy) * sy,
	}
	dst := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	draw.ApproxBiLinear.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// boxIn expresses a WGS-84 box in crs using the bounding box of its
// transformed corners.
func boxIn(crs raster.CRS, b raster.Bounds) (raster.Bounds, error) {
	if crs.EPSG == raster.WGS84.EPSG {
		return b, nil
	}
	fwd, err := raster.NewTransformer(raster.WGS84, crs)
	if err != nil {
		return raster.Bounds{}, err
	}
	out := raster.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, p := range [][2]float64{{b.MinX, b.MinY}, {b.MinX, b.MaxY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}} {
		x, y, err := fwd(p[0], p[1])
		if err != nil {
			return raster.Bounds{}, fmt.Errorf("tile corner: %w", err)
		}
		out.MinX, out.MaxX = math.Min(out.MinX, x), math.Max(out.MaxX, x)
		out.MinY, out.MaxY = math.Min(out.MinY, y), math.Max(out.MaxY, y)
	}
	return out, nil
}
