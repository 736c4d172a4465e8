package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// Namer attaches place names to hotspots via reverse geocoding.
type Namer struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

func NewNamer(g domain.Geocoder, logger *slog.Logger) *Namer {
	return &Namer{geocoder: g, logger: logger}
}

// Name sets Name on the first limit hotspots. Lookups that fail or find
// nothing fall back to a rank label, so naming never fails a query.
func (n *Namer) Name(ctx context.Context, hs []domain.Hotspot, limit int) {
	for i := range hs {
		if i >= limit {
			return
		}
		hs[i].Name = n.lookup(ctx, hs[i])
	}
}

func (n *Namer) lookup(ctx context.Context, h domain.Hotspot) string {
	fallback := fmt.Sprintf("Hotspot #%d", h.Rank)
	res, err := n.geocoder.ReverseGeocode(ctx, h.Lat, h.Lon)
	if err != nil {
		n.logger.Warn("hotspot naming failed", "lat", h.Lat, "lon", h.Lon, "error", err)
		return fallback
	}
	if label := res.Label(); label != "" {
		return label
	}
	return fallback
}
