package raster

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, g *Grid) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))
	return buf.Bytes()
}

func TestGeoTIFF_RoundTrip(t *testing.T) {
	g := rampGrid(7, 5)
	g.Set(3, 2, NoData)
	g.Transform = GeoTransform{OriginX: -125.02, OriginY: 49.98, PixelWidth: 0.04, PixelHeight: 0.04}

	got, err := Decode(encode(t, g))
	require.NoError(t, err)

	assert.Equal(t, g.Width, got.Width)
	assert.Equal(t, g.Height, got.Height)
	assert.Equal(t, WGS84, got.CRS)
	assert.True(t, got.HasNoData)
	assert.Equal(t, NoData, got.NoData)
	if diff := cmp.Diff(g.Transform, got.Transform); diff != "" {
		t.Errorf("transform mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(g.Data, got.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.Valid(got.At(3, 2)))
}

func TestGeoTIFF_MultipleStrips(t *testing.T) {
	g := New(10, 5000, GeoTransform{OriginX: 0, OriginY: 0, PixelWidth: 1000, PixelHeight: 1000}, WGS84)
	for i := range g.Data {
		g.Data[i] = float32(i % 977)
	}
	g.CRS, _ = CRSFromEPSG(32610)

	got, err := Decode(encode(t, g))
	require.NoError(t, err)
	assert.Equal(t, 32610, got.CRS.EPSG)
	assert.Equal(t, g.Data, got.Data)
}

func TestGeoTIFF_Deterministic(t *testing.T) {
	g := rampGrid(30, 20)
	assert.Equal(t, encode(t, g), encode(t, g))
}

// bigEndianInt16TIFF builds an uncompressed, horizontally predicted,
// big-endian int16 GeoTIFF with PixelIsPoint georeferencing.
func bigEndianInt16TIFF(w, h int, values []int16) []byte {
	be := binary.BigEndian
	var pix []byte
	for row := range h {
		prev := uint16(0)
		for col := range w {
			v := uint16(values[row*w+col])
			d := v
			if col > 0 {
				d = v - prev
			}
			pix = be.AppendUint16(pix, d)
			prev = v
		}
	}

	type ent struct {
		tag, typ uint16
		count    uint32
		data     []byte
	}
	u16 := func(v ...uint16) []byte {
		var b []byte
		for _, x := range v {
			b = be.AppendUint16(b, x)
		}
		return b
	}
	u32 := func(v uint32) []byte { return be.AppendUint32(nil, v) }
	f64 := func(v ...float64) []byte {
		var b []byte
		for _, x := range v {
			b = be.AppendUint64(b, math.Float64bits(x))
		}
		return b
	}
	nodata := []byte("-32768\x00")
	entries := []ent{
		{256, 4, 1, u32(uint32(w))},
		{257, 4, 1, u32(uint32(h))},
		{258, 3, 1, u16(16)},
		{259, 3, 1, u16(1)},
		{273, 4, 1, u32(8)},
		{277, 3, 1, u16(1)},
		{278, 4, 1, u32(uint32(h))},
		{279, 4, 1, u32(uint32(len(pix)))},
		{317, 3, 1, u16(2)},
		{339, 3, 1, u16(2)},
		{33550, 12, 3, f64(0.5, 0.25, 0)},
		{33922, 12, 6, f64(0, 0, 0, 10, 20, 0)},
		{34735, 3, 12, u16(1, 1, 0, 2, 1025, 0, 1, 2, 2048, 0, 1, 4326)},
		{42113, 2, uint32(len(nodata)), nodata},
	}

	ifdOff := 8 + len(pix)
	extraOff := ifdOff + 2 + 12*len(entries) + 4
	out := []byte{'M', 'M', 0, 42}
	out = be.AppendUint32(out, uint32(ifdOff))
	out = append(out, pix...)
	var extra []byte
	out = be.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = be.AppendUint16(out, e.tag)
		out = be.AppendUint16(out, e.typ)
		out = be.AppendUint32(out, e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			out = append(out, v[:]...)
			continue
		}
		out = be.AppendUint32(out, uint32(extraOff+len(extra)))
		extra = append(extra, e.data...)
	}
	out = be.AppendUint32(out, 0)
	return append(out, extra...)
}

func TestDecode_BigEndianInt16WithPredictor(t *testing.T) {
	values := []int16{5, 7, -32768, 100, 90, 80}
	g, err := Decode(bigEndianInt16TIFF(3, 2, values))
	require.NoError(t, err)

	assert.Equal(t, []float32{5, 7, -32768, 100, 90, 80}, g.Data)
	assert.True(t, g.HasNoData)
	assert.False(t, g.Valid(g.At(2, 0)))
	// PixelIsPoint tiepoints mark the first pixel centre.
	assert.Equal(t, GeoTransform{OriginX: 9.75, OriginY: 20.125, PixelWidth: 0.5, PixelHeight: 0.25}, g.Transform)
}

func TestDecode_Errors(t *testing.T) {
	tests := map[string][]byte{
		"short":    []byte("II"),
		"marker":   []byte("XX*\x00\x08\x00\x00\x00"),
		"bigtiff":  {'I', 'I', 43, 0, 8, 0, 0, 0},
		"bad ifd":  {'I', 'I', 42, 0, 0xff, 0xff, 0, 0},
		"no magic": {'I', 'I', 7, 0, 8, 0, 0, 0},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.Error(t, err)
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sst_proc.tif")
	g := rampGrid(4, 4)

	require.NoError(t, WriteFileAtomic(path, g))
	got, err := ReadGeoTIFF(path)
	require.NoError(t, err)
	assert.Equal(t, g.Data, got.Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
}

func TestWriteFileAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	bad := &Grid{Width: 2, Height: 2, Data: []float32{1}}

	err := WriteFileAtomic(filepath.Join(dir, "tchi.tif"), bad)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadGeoTIFF_Missing(t *testing.T) {
	_, err := ReadGeoTIFF(filepath.Join(t.TempDir(), "nope.tif"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tif")
	require.NoError(t, WriteFileAtomic(path, rampGrid(3, 3)))
	a, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	require.NoError(t, WriteFileAtomic(path, rampGrid(3, 3)))
	b, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
