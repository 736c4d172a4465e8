package tile

import (
	"image/color"
	"math"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

type stop struct {
	at float64
	c  color.NRGBA
}

// Ramp maps a layer value onto a colour. Values are scaled from
// [Min, Max] onto the stop positions in [0, 1] and clamped.
type Ramp struct {
	Min, Max float64
	stops    []stop
}

var indexStops = []stop{
	{0.0, color.NRGBA{10, 25, 47, 255}},
	{0.2, color.NRGBA{20, 50, 94, 255}},
	{0.4, color.NRGBA{46, 204, 113, 255}},
	{0.6, color.NRGBA{241, 196, 15, 255}},
	{0.8, color.NRGBA{231, 76, 60, 255}},
	{1.0, color.NRGBA{231, 76, 60, 255}},
}

var ramps = map[domain.Layer]Ramp{
	domain.LayerTCHI: {Min: 0, Max: 1, stops: indexStops},
	domain.LayerSST: {Min: 5, Max: 32, stops: []stop{
		{0.0, color.NRGBA{49, 54, 149, 255}},
		{0.35, color.NRGBA{116, 173, 209, 255}},
		{0.6, color.NRGBA{254, 224, 144, 255}},
		{0.8, color.NRGBA{244, 109, 67, 255}},
		{1.0, color.NRGBA{165, 0, 38, 255}},
	}},
	domain.LayerChla: {Min: 0, Max: 2, stops: []stop{
		{0.0, color.NRGBA{8, 29, 88, 255}},
		{0.1, color.NRGBA{34, 94, 168, 255}},
		{0.3, color.NRGBA{65, 182, 196, 255}},
		{0.6, color.NRGBA{161, 218, 180, 255}},
		{1.0, color.NRGBA{255, 255, 204, 255}},
	}},
	domain.LayerTFG: {Min: 0, Max: 0.2, stops: []stop{
		{0.0, color.NRGBA{0, 0, 4, 255}},
		{0.4, color.NRGBA{120, 28, 109, 255}},
		{0.7, color.NRGBA{237, 105, 37, 255}},
		{1.0, color.NRGBA{252, 255, 164, 255}},
	}},
	domain.LayerEKE: {Min: 0, Max: 2000, stops: []stop{
		{0.0, color.NRGBA{13, 8, 135, 255}},
		{0.3, color.NRGBA{126, 3, 168, 255}},
		{0.6, color.NRGBA{204, 71, 120, 255}},
		{0.8, color.NRGBA{248, 149, 64, 255}},
		{1.0, color.NRGBA{240, 249, 33, 255}},
	}},
	domain.LayerBathy: {Min: 0, Max: 6000, stops: []stop{
		{0.0, color.NRGBA{198, 219, 239, 255}},
		{0.1, color.NRGBA{107, 174, 214, 255}},
		{0.4, color.NRGBA{33, 113, 181, 255}},
		{1.0, color.NRGBA{8, 48, 107, 255}},
	}},
}

// RampFor returns the colour ramp of layer. Suitability layers share the
// index ramp. Layers without a ramp cannot be rendered.
func RampFor(l domain.Layer) (Ramp, bool) {
	if l.IsSuitability() {
		return ramps[domain.LayerTCHI], true
	}
	r, ok := ramps[l]
	return r, ok
}

// Color returns the colour of v.
func (r Ramp) Color(v float64) color.NRGBA {
	t := (v - r.Min) / (r.Max - r.Min)
	if math.IsNaN(t) {
		return color.NRGBA{}
	}
	t = math.Max(0, math.Min(1, t))
	for i := 1; i < len(r.stops); i++ {
		lo, hi := r.stops[i-1], r.stops[i]
		if t > hi.at {
			continue
		}
		f := 0.0
		if hi.at > lo.at {
			f = (t - lo.at) / (hi.at - lo.at)
		}
		return color.NRGBA{
			R: lerp(lo.c.R, hi.c.R, f),
			G: lerp(lo.c.G, hi.c.G, f),
			B: lerp(lo.c.B, hi.c.B, f),
			A: 255,
		}
	}
	return r.stops[len(r.stops)-1].c
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
