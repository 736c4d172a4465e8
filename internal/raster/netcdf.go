package raster

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/ctessum/cdf"
)

// ReadNetCDF reads a 2-D slice of variable from a classic netCDF file. The
// last two dimensions must be latitude then longitude, each backed by a
// 1-D coordinate variable with regular spacing; any leading dimensions
// (time, depth) take their first index. Packed values are unpacked with
// scale_factor and add_offset, and _FillValue/missing_value become NoData.
func ReadNetCDF(path, variable string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	if !slices.Contains(nc.Header.Variables(), variable) {
		return nil, fmt.Errorf("%w: variable %q not in %s", domain.ErrNotFound, variable, path)
	}

	dims := nc.Header.Dimensions(variable)
	lengths := nc.Header.Lengths(variable)
	if len(dims) < 2 {
		return nil, fmt.Errorf("netcdf %s: variable %q has %d dimensions, want at least 2", path, variable, len(dims))
	}
	latDim, lonDim := dims[len(dims)-2], dims[len(dims)-1]
	if !isLatName(latDim) || !isLonName(lonDim) {
		return nil, fmt.Errorf("netcdf %s: variable %q dimensions (%s, %s) are not (lat, lon)", path, variable, latDim, lonDim)
	}
	lats, err := readCoordinate(nc, latDim)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	lons, err := readCoordinate(nc, lonDim)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	nlat, nlon := lengths[len(lengths)-2], lengths[len(lengths)-1]
	if len(lats) != nlat || len(lons) != nlon || nlat < 2 || nlon < 2 {
		return nil, fmt.Errorf("netcdf %s: coordinate lengths %dx%d do not match variable %dx%d", path, len(lats), len(lons), nlat, nlon)
	}
	dlat, err := regularStep(lats)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %s: %w", path, latDim, err)
	}
	dlon, err := regularStep(lons)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %s: %w", path, lonDim, err)
	}

	begin := make([]int, len(lengths))
	end := make([]int, len(lengths))
	for i := range end {
		end[i] = 1
		if lengths[i] == 0 {
			return nil, fmt.Errorf("netcdf %s: variable %q has an empty %s dimension", path, variable, dims[i])
		}
	}
	end[len(end)-2], end[len(end)-1] = nlat, nlon
	r := nc.Reader(variable, begin, end)
	buf := r.Zero(nlat * nlon)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("netcdf %s: read %q: %w", path, variable, err)
	}
	values, err := toFloat64s(buf)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %q: %w", path, variable, err)
	}

	scale := attrFloat(nc, variable, "scale_factor", 1)
	offset := attrFloat(nc, variable, "add_offset", 0)
	var fills []float64
	for _, name := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrFloats(nc, variable, name); ok {
			fills = append(fills, v...)
		}
	}

	gt := GeoTransform{
		OriginX:     math.Min(lons[0], lons[nlon-1]) - math.Abs(dlon)/2,
		OriginY:     math.Max(lats[0], lats[nlat-1]) + math.Abs(dlat)/2,
		PixelWidth:  math.Abs(dlon),
		PixelHeight: math.Abs(dlat),
	}
	g := New(nlon, nlat, gt, WGS84)
	if units, ok := nc.Header.GetAttribute(variable, "units").(string); ok {
		g.Units = strings.TrimSpace(units)
	}
	for i, v := range values {
		row, col := i/nlon, i%nlon
		if dlat > 0 {
			row = nlat - 1 - row
		}
		if dlon < 0 {
			col = nlon - 1 - col
		}
		if math.IsNaN(v) || slices.Contains(fills, v) {
			continue
		}
		g.Set(col, row, float32(v*scale+offset))
	}
	return g, nil
}

func isLatName(s string) bool {
	s = strings.ToLower(s)
	return s == "lat" || s == "latitude" || s == "y"
}

func isLonName(s string) bool {
	s = strings.ToLower(s)
	return s == "lon" || s == "longitude" || s == "x"
}

func readCoordinate(nc *cdf.File, name string) ([]float64, error) {
	if !slices.Contains(nc.Header.Variables(), name) {
		return nil, fmt.Errorf("missing coordinate variable %q", name)
	}
	n := nc.Header.Lengths(name)
	if len(n) != 1 {
		return nil, fmt.Errorf("coordinate variable %q is not 1-D", name)
	}
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(n[0])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("read coordinate %q: %w", name, err)
	}
	return toFloat64s(buf)
}

// regularStep returns the signed spacing of a monotonic, evenly spaced axis.
func regularStep(axis []float64) (float64, error) {
	step := (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
	if step == 0 {
		return 0, errors.New("degenerate axis")
	}
	tol := math.Abs(step) * 1e-3
	for i := 1; i < len(axis); i++ {
		if math.Abs(axis[i]-axis[i-1]-step) > tol {
			return 0, fmt.Errorf("irregular spacing at index %d", i)
		}
	}
	return step, nil
}

func toFloat64s(buf any) ([]float64, error) {
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	case []int8:
		return convert(v), nil
	case []uint8:
		return convert(v), nil
	}
	return nil, fmt.Errorf("unsupported netCDF element type %T", buf)
}

func convert[T float32 | int32 | int16 | int8 | uint8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

func attrFloats(nc *cdf.File, variable, name string) ([]float64, bool) {
	a := nc.Header.GetAttribute(variable, name)
	if a == nil {
		return nil, false
	}
	v, err := toFloat64s(a)
	if err != nil || len(v) == 0 {
		return nil, false
	}
	return v, true
}

func attrFloat(nc *cdf.File, variable, name string, def float64) float64 {
	if v, ok := attrFloats(nc, variable, name); ok {
		return v[0]
	}
	return def
}

// NetCDFVariable is one 2-D field written by WriteNetCDF.
type NetCDFVariable struct {
	Name  string
	Units string
	// Values are row-major with latitude ascending, matching Lats.
	Values []float32
	Fill   float32
}

// WriteNetCDF writes a classic netCDF file with a leading time dimension of
// length one, ascending lat/lon axes and float32 variables. It produces the
// raw-input layout consumed by ReadNetCDF.
func WriteNetCDF(path string, lats, lons []float64, vars []NetCDFVariable) (err error) {
	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{1, len(lats), len(lons)})
	h.AddAttribute("", "Conventions", "CF-1.7")
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "seconds since 1981-01-01 00:00:00")
	h.AddVariable("lat", []string{"lat"}, []float32{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float32{0})
	h.AddAttribute("lon", "units", "degrees_east")
	for _, v := range vars {
		h.AddVariable(v.Name, []string{"time", "lat", "lon"}, []float32{0})
		h.AddAttribute(v.Name, "units", v.Units)
		h.AddAttribute(v.Name, "_FillValue", []float32{v.Fill})
	}
	h.Define()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	nc, err := cdf.Create(out, h)
	if err != nil {
		return fmt.Errorf("netcdf header %s: %w", path, err)
	}
	write := func(name string, data any) error {
		end := nc.Header.Lengths(name)
		w := nc.Writer(name, make([]int, len(end)), end)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write %q to %s: %w", name, path, err)
		}
		return nil
	}
	if err := write("time", []float64{0}); err != nil {
		return err
	}
	if err := write("lat", toFloat32s(lats)); err != nil {
		return err
	}
	if err := write("lon", toFloat32s(lons)); err != nil {
		return err
	}
	for _, v := range vars {
		if len(v.Values) != len(lats)*len(lons) {
			return fmt.Errorf("%w: variable %q has %d values for a %dx%d grid", domain.ErrInvalidInput, v.Name, len(v.Values), len(lats), len(lons))
		}
		if err := write(v.Name, v.Values); err != nil {
			return err
		}
	}
	return nil
}

func toFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, x := range in {
		out[i] = float32(x)
	}
	return out
}
