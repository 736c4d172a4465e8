package domain

import (
	"fmt"
	"strings"
)

// Factor is one of the five environmental inputs to the habitat index.
type Factor string

const (
	FactorSST   Factor = "sst"
	FactorChla  Factor = "chla"
	FactorTFG   Factor = "tfg"
	FactorEKE   Factor = "eke"
	FactorBathy Factor = "bathy"
)

// Factors lists every factor in the fixed order used for composition and reporting.
var Factors = []Factor{FactorSST, FactorChla, FactorTFG, FactorEKE, FactorBathy}

// Layer names a raster written for a processing run.
type Layer string

const (
	LayerTCHI  Layer = "tchi"
	LayerSST   Layer = "sst"
	LayerChla  Layer = "chla"
	LayerTFG   Layer = "tfg"
	LayerEKE   Layer = "eke"
	LayerBathy Layer = "bathy"
	LayerUGOS  Layer = "ugos"
	LayerVGOS  Layer = "vgos"

	LayerSuitSST   Layer = "s_sst"
	LayerSuitChla  Layer = "s_chla"
	LayerSuitTFG   Layer = "s_tfg"
	LayerSuitEKE   Layer = "s_eke"
	LayerSuitBathy Layer = "s_bathy"
)

var knownLayers = map[Layer]bool{
	LayerTCHI: true, LayerSST: true, LayerChla: true, LayerTFG: true, LayerEKE: true,
	LayerBathy: true, LayerUGOS: true, LayerVGOS: true, LayerSuitSST: true, LayerSuitChla: true,
	LayerSuitTFG: true, LayerSuitEKE: true, LayerSuitBathy: true,
}

// ParseLayer accepts a layer name case-insensitively, so "S_sst" and "s_sst" are equivalent.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(s))
	if !knownLayers[l] {
		return "", fmt.Errorf("%w: unknown layer %q", ErrInvalidInput, s)
	}
	return l, nil
}

// Layer returns the processed (physical-unit) layer of the factor.
func (f Factor) Layer() Layer { return Layer(f) }

// SuitabilityLayer returns the [0,1] suitability layer of the factor.
func (f Factor) SuitabilityLayer() Layer { return Layer("s_" + string(f)) }

// IsSuitability reports whether l holds a [0,1] suitability score.
func (l Layer) IsSuitability() bool { return strings.HasPrefix(string(l), "s_") }

// FileName is the on-disk name of the layer within a date's processed directory.
func (l Layer) FileName() string {
	switch {
	case l == LayerTCHI:
		return "tchi.tif"
	case l.IsSuitability():
		return "S_" + strings.TrimPrefix(string(l), "s_") + ".tif"
	default:
		return string(l) + "_proc.tif"
	}
}
