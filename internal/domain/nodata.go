package domain

import "math"

// NoDataRule decides whether a sample value is a missing-data marker. The
// rule is applied in addition to NaN checks and the file's own declared
// no-data value, which always count as missing.
type NoDataRule struct {
	Sentinels []float64
	// Below marks every value strictly less than it as missing.
	Below float64
}

// Int32Overflow is the sentinel some eddy-energy products write for land.
const Int32Overflow = -2147483648.0

var (
	energyRule   = NoDataRule{Sentinels: []float64{Int32Overflow}, Below: -1e9}
	standardRule = NoDataRule{Sentinels: []float64{-32768, -32767, -9999}, Below: -9000}
)

// NoDataFor returns the rule for l. Eddy kinetic energy and its suitability
// carry the int32-overflow family of sentinels, every other layer the
// 16-bit family and -9999.
func NoDataFor(l Layer) NoDataRule {
	switch l {
	case LayerEKE, LayerSuitEKE:
		return energyRule
	default:
		return standardRule
	}
}

// IsNoData reports whether v is missing under r.
func (r NoDataRule) IsNoData(v float64) bool {
	return v < r.Below || r.IsSentinel(v)
}

// IsSentinel reports whether v is non-finite or one of r's exact markers,
// ignoring the Below threshold. Raw source values in other units are
// screened with it before conversion.
func (r NoDataRule) IsSentinel(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return true
	}
	for _, s := range r.Sentinels {
		// Sentinels are compared at float32 precision because rasters store float32.
		if float32(v) == float32(s) {
			return true
		}
	}
	return false
}
