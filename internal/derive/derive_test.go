package derive

import (
	"context"
	"testing"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utmGrid(t *testing.T, w, h int, f func(col, row int) float32) *raster.Grid {
	t.Helper()
	crs, err := raster.CRSFromEPSG(32610)
	require.NoError(t, err)
	g := raster.New(w, h, raster.GeoTransform{OriginX: 500000, OriginY: 4000000, PixelWidth: 1000, PixelHeight: 1000}, crs)
	for row := range h {
		for col := range w {
			g.Set(col, row, f(col, row))
		}
	}
	return g
}

func TestFrontGradient_ConstantFieldIsFlat(t *testing.T) {
	sst := utmGrid(t, 4, 4, func(int, int) float32 { return 18 })
	out, err := FrontGradient(context.Background(), sst)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, float32(0), v)
	}
}

func TestFrontGradient_LinearRamp(t *testing.T) {
	// 2 °C per 1 km pixel eastward.
	sst := utmGrid(t, 5, 3, func(c, _ int) float32 { return float32(2 * c) })
	out, err := FrontGradient(context.Background(), sst)
	require.NoError(t, err)

	assert.InDelta(t, 2, out.At(2, 1), 1e-6)
	// Edge replication halves the central difference on the border.
	assert.InDelta(t, 1, out.At(0, 1), 1e-6)
	assert.InDelta(t, 1, out.At(4, 0), 1e-6)
}

func TestFrontGradient_GeographicSpacing(t *testing.T) {
	g := raster.New(3, 3, raster.GeoTransform{OriginX: 0, OriginY: 1.5, PixelWidth: 1, PixelHeight: 1}, raster.WGS84)
	for row := range 3 {
		for col := range 3 {
			g.Set(col, row, float32(col))
		}
	}
	out, err := FrontGradient(context.Background(), g)
	require.NoError(t, err)
	// Centre row sits on the equator: 1 °C per degree of longitude.
	assert.InDelta(t, 1/kmPerDegree, out.At(1, 1), 1e-7)
}

func TestFrontGradient_NoData(t *testing.T) {
	sst := utmGrid(t, 3, 3, func(c, _ int) float32 { return float32(c) })
	sst.Set(1, 1, raster.NoData)
	sst.Set(0, 0, -32768)

	out, err := FrontGradient(context.Background(), sst)
	require.NoError(t, err)
	assert.False(t, out.Valid(out.At(1, 1)), "no-data centre stays no-data")
	assert.True(t, out.Valid(out.At(1, 0)), "no-data neighbour is replaced by the centre")
	assert.True(t, out.Valid(out.At(0, 1)))
}

func TestEddyKineticEnergy(t *testing.T) {
	u := utmGrid(t, 2, 2, func(int, int) float32 { return 3 })
	v := utmGrid(t, 2, 2, func(int, int) float32 { return 4 })
	u.Set(1, 0, raster.NoData)
	v.Set(0, 1, float32(domain.Int32Overflow))

	out, err := EddyKineticEnergy(context.Background(), u, v)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), out.At(0, 0))
	assert.Equal(t, float32(12.5), out.At(1, 1))
	assert.False(t, out.Valid(out.At(1, 0)))
	assert.False(t, out.Valid(out.At(0, 1)))
}

func TestEddyKineticEnergy_Mismatch(t *testing.T) {
	u := utmGrid(t, 2, 2, func(int, int) float32 { return 1 })
	v := utmGrid(t, 3, 2, func(int, int) float32 { return 1 })
	_, err := EddyKineticEnergy(context.Background(), u, v)
	require.ErrorIs(t, err, domain.ErrGridMismatch)
}

func TestDerive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := utmGrid(t, 2, 2, func(int, int) float32 { return 1 })

	_, err := FrontGradient(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = EddyKineticEnergy(ctx, g, g)
	assert.ErrorIs(t, err, context.Canceled)
}
