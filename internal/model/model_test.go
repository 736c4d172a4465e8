package model

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grid(vals ...float32) *raster.Grid {
	g := raster.New(len(vals), 1, raster.GeoTransform{OriginX: 0, OriginY: 1, PixelWidth: 1, PixelHeight: 1}, raster.WGS84)
	copy(g.Data, vals)
	return g
}

func TestScore_KnownValues(t *testing.T) {
	tests := []struct {
		factor domain.Factor
		in     float64
		want   float64
	}{
		{domain.FactorSST, 15.5, 1},
		{domain.FactorSST, 21.5, math.Exp(-0.5)},
		{domain.FactorChla, 1, 1},
		{domain.FactorTFG, 0, 0},
		{domain.FactorEKE, 0, 0},
		{domain.FactorBathy, math.Exp(5.3) - 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.factor), func(t *testing.T) {
			got, ok := Score(tt.factor, tt.in)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, f := range domain.Factors {
		for range 2000 {
			a := (r.Float64() - 0.2) * 1e4
			s, ok := Score(f, a)
			if !ok {
				continue
			}
			assert.GreaterOrEqual(t, s, 0.0, "%s(%v)", f, a)
			assert.LessOrEqual(t, s, 1.0, "%s(%v)", f, a)
		}
	}
}

func TestScore_UndefinedIsNoData(t *testing.T) {
	_, ok := Score(domain.FactorChla, -5)
	assert.False(t, ok, "log of a negative concentration")
	_, ok = Score(domain.FactorBathy, -10)
	assert.False(t, ok)
	_, ok = Score("salinity", 1)
	assert.False(t, ok)
}

func TestSuitability_PreservesNoData(t *testing.T) {
	in := grid(15.5, raster.NoData, -32768, float32(math.NaN()), 40)
	out, err := Suitability(context.Background(), domain.FactorSST, in)
	require.NoError(t, err)

	assert.InDelta(t, 1, out.At(0, 0), 1e-6)
	for col := 1; col <= 3; col++ {
		assert.False(t, out.Valid(out.At(col, 0)), "col %d", col)
	}
	assert.True(t, out.Valid(out.At(4, 0)))
	assert.True(t, out.SameLattice(in))
}

func TestSuitability_EnergyRule(t *testing.T) {
	in := grid(0, float32(domain.Int32Overflow), 200)
	out, err := Suitability(context.Background(), domain.FactorEKE, in)
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.At(0, 0))
	assert.False(t, out.Valid(out.At(1, 0)))
	assert.InDelta(t, 1-math.Exp(-3), out.At(2, 0), 1e-6)
}

func TestSuitability_UnknownFactor(t *testing.T) {
	_, err := Suitability(context.Background(), "salinity", grid(1))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, f := range domain.Factors {
		sum += Weights[f]
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Len(t, Weights, len(domain.Factors))
}

func TestCompositeScore(t *testing.T) {
	ones := map[domain.Factor]float64{}
	for _, f := range domain.Factors {
		ones[f] = 1
	}
	s, ok := CompositeScore(ones)
	require.True(t, ok)
	assert.Equal(t, 1.0, s)

	ones[domain.FactorTFG] = 0
	s, ok = CompositeScore(ones)
	require.True(t, ok)
	assert.Equal(t, 0.0, s)

	delete(ones, domain.FactorEKE)
	_, ok = CompositeScore(ones)
	assert.False(t, ok)
}

func TestComposite(t *testing.T) {
	inputs := map[domain.Factor]*raster.Grid{
		domain.FactorSST:   grid(1, 0.5, 1),
		domain.FactorChla:  grid(1, 0.5, 1),
		domain.FactorTFG:   grid(1, 0.5, raster.NoData),
		domain.FactorEKE:   grid(1, 0.5, 1),
		domain.FactorBathy: grid(1, 0.5, 1),
	}
	out, err := Composite(context.Background(), inputs)
	require.NoError(t, err)

	assert.InDelta(t, 1, out.At(0, 0), 1e-6)
	// Equal suitabilities give that value back because the weights sum to one.
	assert.InDelta(t, 0.5, out.At(1, 0), 1e-6)
	assert.False(t, out.Valid(out.At(2, 0)))
}

func TestComposite_IndependentOfInputOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	layers := make([]*raster.Grid, len(domain.Factors))
	for i := range layers {
		vals := make([]float32, 64)
		for j := range vals {
			vals[j] = r.Float32()
		}
		layers[i] = grid(vals...)
	}

	forward := map[domain.Factor]*raster.Grid{}
	for i, f := range domain.Factors {
		forward[f] = layers[i]
	}
	reverse := map[domain.Factor]*raster.Grid{}
	for i := len(domain.Factors) - 1; i >= 0; i-- {
		reverse[domain.Factors[i]] = layers[i]
	}

	a, err := Composite(context.Background(), forward)
	require.NoError(t, err)
	b, err := Composite(context.Background(), reverse)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestComposite_Errors(t *testing.T) {
	inputs := map[domain.Factor]*raster.Grid{
		domain.FactorSST:  grid(1),
		domain.FactorChla: grid(1),
		domain.FactorTFG:  grid(1),
		domain.FactorEKE:  grid(1),
	}
	_, err := Composite(context.Background(), inputs)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	inputs[domain.FactorBathy] = grid(1, 1)
	_, err = Composite(context.Background(), inputs)
	require.ErrorIs(t, err, domain.ErrGridMismatch)
}
