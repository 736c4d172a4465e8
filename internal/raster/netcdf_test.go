package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetCDF_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst_raw.nc")
	lats := []float64{-1, 0, 1}
	lons := []float64{10, 10.5, 11, 11.5}
	values := []float32{
		270, 271, 272, 273, // lat -1
		280, 281, -1, 283, // lat 0
		290, 291, 292, 293, // lat 1
	}
	require.NoError(t, WriteNetCDF(path, lats, lons, []NetCDFVariable{
		{Name: "analysed_sst", Units: "kelvin", Values: values, Fill: -1},
	}))

	g, err := ReadNetCDF(path, "analysed_sst")
	require.NoError(t, err)

	assert.Equal(t, 4, g.Width)
	assert.Equal(t, 3, g.Height)
	assert.Equal(t, "kelvin", g.Units)
	assert.Equal(t, GeoTransform{OriginX: 9.75, OriginY: 1.5, PixelWidth: 0.5, PixelHeight: 1}, g.Transform)
	// Rows are flipped so the northernmost latitude comes first.
	assert.Equal(t, float32(290), g.At(0, 0))
	assert.Equal(t, float32(273), g.At(3, 2))
	assert.False(t, g.Valid(g.At(2, 1)), "fill value becomes no-data")
}

func TestNetCDF_PackedDescendingLatitude(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chla_raw.nc")

	h := cdf.NewHeader([]string{"latitude", "longitude"}, []int{2, 2})
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	h.AddVariable("chlor_a", []string{"latitude", "longitude"}, []int16{0})
	h.AddAttribute("chlor_a", "scale_factor", []float32{0.01})
	h.AddAttribute("chlor_a", "add_offset", []float32{1})
	h.AddAttribute("chlor_a", "_FillValue", []int16{-32767})
	h.Define()

	f, err := os.Create(path)
	require.NoError(t, err)
	nc, err := cdf.Create(f, h)
	require.NoError(t, err)
	write := func(name string, data any) {
		end := nc.Header.Lengths(name)
		_, err := nc.Writer(name, make([]int, len(end)), end).Write(data)
		require.NoError(t, err)
	}
	write("latitude", []float64{5, 4})
	write("longitude", []float64{-20, -19})
	write("chlor_a", []int16{100, -32767, 0, 50})
	require.NoError(t, f.Close())

	g, err := ReadNetCDF(path, "chlor_a")
	require.NoError(t, err)
	assert.Equal(t, GeoTransform{OriginX: -20.5, OriginY: 5.5, PixelWidth: 1, PixelHeight: 1}, g.Transform)
	assert.InDelta(t, 2.0, g.At(0, 0), 1e-6)
	assert.False(t, g.Valid(g.At(1, 0)))
	assert.InDelta(t, 1.0, g.At(0, 1), 1e-6)
	assert.InDelta(t, 1.5, g.At(1, 1), 1e-6)
}

func TestReadNetCDF_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadNetCDF(filepath.Join(dir, "missing.nc"), "analysed_sst")
	require.ErrorIs(t, err, domain.ErrNotFound)

	path := filepath.Join(dir, "sst_raw.nc")
	require.NoError(t, WriteNetCDF(path, []float64{0, 1}, []float64{0, 1}, []NetCDFVariable{
		{Name: "analysed_sst", Units: "kelvin", Values: []float32{1, 2, 3, 4}, Fill: -1},
	}))
	_, err = ReadNetCDF(path, "sea_ice_fraction")
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = WriteNetCDF(path, []float64{0, 1}, []float64{0, 1}, []NetCDFVariable{{Name: "x", Values: []float32{1}}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
