package domain

import "context"

// GeocodingResult is the place a geocoding provider found for a coordinate.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Region           string
	Country          string
	Relevance        float64 // 0.0–1.0
}

// Label is the short display name: "place, region" when both are known,
// else the place, region or full address, in that order.
func (r GeocodingResult) Label() string {
	switch {
	case r.PlaceName != "" && r.Region != "" && r.Region != r.PlaceName:
		return r.PlaceName + ", " + r.Region
	case r.PlaceName != "":
		return r.PlaceName
	case r.Region != "":
		return r.Region
	}
	return r.FormattedAddress
}

// Geocoder names locations for hotspot results.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
