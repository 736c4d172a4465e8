package raster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/ctessum/geom/proj"
)

// CRS identifies a coordinate reference system by EPSG code and its PROJ.4 definition.
type CRS struct {
	EPSG  int
	Proj4 string
}

// WGS84 is the default target CRS.
var WGS84 = CRS{EPSG: 4326, Proj4: "+proj=longlat +datum=WGS84 +no_defs"}

var knownCRS = map[int]string{
	4326: WGS84.Proj4,
	4269: "+proj=longlat +datum=NAD83 +no_defs",
	4258: "+proj=longlat +ellps=GRS80 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	3395: "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
}

// CRSFromEPSG resolves a code from the built-in table. UTM zones (326xx
// north, 327xx south) are generated.
func CRSFromEPSG(code int) (CRS, error) {
	if def, ok := knownCRS[code]; ok {
		return CRS{EPSG: code, Proj4: def}, nil
	}
	switch {
	case code > 32600 && code <= 32660:
		return CRS{EPSG: code, Proj4: fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600)}, nil
	case code > 32700 && code <= 32760:
		return CRS{EPSG: code, Proj4: fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700)}, nil
	}
	return CRS{}, fmt.Errorf("%w: EPSG:%d", domain.ErrUnsupportedCRS, code)
}

// ParseCRS accepts "EPSG:4326", "epsg:4326" or a bare "4326".
func ParseCRS(s string) (CRS, error) {
	code := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "EPSG:")
	n, err := strconv.Atoi(code)
	if err != nil {
		return CRS{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedCRS, s)
	}
	return CRSFromEPSG(n)
}

func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(c.EPSG)
}

// Geographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) Geographic() bool {
	return strings.Contains(c.Proj4, "+proj=longlat")
}

// Transformer maps a coordinate from one CRS to another.
type Transformer func(x, y float64) (float64, float64, error)

func identity(x, y float64) (float64, float64, error) { return x, y, nil }

// NewTransformer builds a point transform from src to dst. Identical
// codes short-circuit to the identity.
func NewTransformer(src, dst CRS) (Transformer, error) {
	if src.EPSG == dst.EPSG {
		return identity, nil
	}
	from, err := proj.Parse(src.Proj4)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrUnsupportedCRS, src, err)
	}
	to, err := proj.Parse(dst.Proj4)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrUnsupportedCRS, dst, err)
	}
	t, err := from.NewTransform(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %s to %s: %v", domain.ErrUnsupportedCRS, src, dst, err)
	}
	return Transformer(t), nil
}
