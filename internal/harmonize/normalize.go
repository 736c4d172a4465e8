package harmonize

import "strings"

// Normalizer converts a source sample into the processed unit of its
// factor. units is the source's declared unit string, possibly empty.
// Returning ok=false marks the sample as no-data.
type Normalizer func(units string, v float64) (out float64, ok bool)

// Identity passes samples through unchanged.
func Identity(_ string, v float64) (float64, bool) { return v, true }

// KelvinToCelsius converts kelvin temperatures to °C. Sources declaring
// Celsius pass through; undeclared values above 150 are taken as kelvin.
func KelvinToCelsius(units string, v float64) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "kelvin", "k", "degk", "deg_k", "degrees_k":
		return v - 273.15, true
	case "":
		if v > 150 {
			return v - 273.15, true
		}
	}
	return v, true
}

// MetresToCentimetres converts velocities in m/s to cm/s. Sources that
// already declare cm/s pass through; undeclared values are taken as m/s.
func MetresToCentimetres(units string, v float64) (float64, bool) {
	switch strings.ToLower(strings.ReplaceAll(units, " ", "")) {
	case "cm/s", "cms-1", "cms**-1", "centimeters/second":
		return v, true
	}
	return v * 100, true
}

// ElevationToDepth turns elevation (negative below sea level) into positive
// depth. Land and the shoreline become no-data.
func ElevationToDepth(_ string, v float64) (float64, bool) {
	if v >= 0 {
		return 0, false
	}
	return -v, true
}
