package domain

import "time"

// Location is a WGS-84 latitude/longitude pair in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects coordinates outside lat [-90,90] and lon [-180,180].
func (l Location) Validate() error {
	if !(l.Lat >= -90 && l.Lat <= 90) {
		return invalidCoordinate("lat", l.Lat, 90)
	}
	if !(l.Lon >= -180 && l.Lon <= 180) {
		return invalidCoordinate("lon", l.Lon, 180)
	}
	return nil
}

// FactorValues holds per-factor raw values at a point. A nil entry is no-data.
type FactorValues struct {
	SST   *float64 `json:"sst"`
	Chla  *float64 `json:"chla"`
	TFG   *float64 `json:"tfg"`
	EKE   *float64 `json:"eke"`
	Bathy *float64 `json:"bathy"`
}

// Set stores v for factor f.
func (fv *FactorValues) Set(f Factor, v *float64) {
	switch f {
	case FactorSST:
		fv.SST = v
	case FactorChla:
		fv.Chla = v
	case FactorTFG:
		fv.TFG = v
	case FactorEKE:
		fv.EKE = v
	case FactorBathy:
		fv.Bathy = v
	}
}

// TimeSeriesPoint is one date's composite score and factor values at a location.
type TimeSeriesPoint struct {
	Date      Date         `json:"date"`
	TCHIScore float64      `json:"tchi_score"`
	Factors   FactorValues `json:"factors"`
}

// DateSpan is the inclusive first and last date of a series.
type DateSpan struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// SeriesMetadata describes how a point series was assembled.
type SeriesMetadata struct {
	TotalDates  int       `json:"total_dates"`
	DateRange   *DateSpan `json:"date_range"`
	GeneratedAt time.Time `json:"generated_at"`
	DataSource  string    `json:"data_source"`
	Message     string    `json:"message,omitempty"`
}

// Series is the point-query response: every date with a valid composite at the location, ascending.
type Series struct {
	Location   Location          `json:"location"`
	TimeSeries []TimeSeriesPoint `json:"timeseries"`
	Metadata   SeriesMetadata    `json:"metadata"`
}

// Hotspot is a ranked local maximum of the composite index.
type Hotspot struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	TCHIScore float64 `json:"tchi_score"`
	Rank      int     `json:"rank"`
	Name      string  `json:"name,omitempty"`
}

// LayerStats summarises the valid pixels of a raster.
type LayerStats struct {
	ValidPixels int     `json:"valid_pixels" yaml:"valid_pixels"`
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	Mean        float64 `json:"mean" yaml:"mean"`
}

// RunRecord describes a completed processing run. It is handed to run
// hooks (event publishing, metadata storage, archival) after the composite
// is written.
type RunRecord struct {
	RunID       string           `json:"run_id"`
	Date        Date             `json:"date"`
	Outputs     map[Layer]string `json:"outputs"`
	Composite   LayerStats       `json:"composite"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}
