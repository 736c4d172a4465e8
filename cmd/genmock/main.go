// Command genmock writes synthetic raw inputs for local pipeline runs: daily
// SST and chlorophyll netCDF files, a geostrophic velocity netCDF, and a
// bathymetry GeoTIFF, laid out where the default configuration expects them.
//
// Usage:
//
//	go run ./cmd/genmock -data-dir data -from 2024-06-01 -days 7
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

const (
	sstFill  float32 = -32768
	chlaFill float32 = -32767
	velFill  float32 = -9999
)

// lattice is the source grid shared by every generated file. Lat and lon
// are pixel centres, ascending.
type lattice struct {
	lats, lons []float64
	res        float64
}

func newLattice(minLon, minLat, maxLon, maxLat, res float64) lattice {
	var l lattice
	l.res = res
	for y := minLat + res/2; y < maxLat; y += res {
		l.lats = append(l.lats, y)
	}
	for x := minLon + res/2; x < maxLon; x += res {
		l.lons = append(l.lons, x)
	}
	return l
}

// field evaluates f at every pixel centre, row-major with latitude ascending.
func (l lattice) field(f func(lat, lon float64) float32) []float32 {
	out := make([]float32, 0, len(l.lats)*len(l.lons))
	for _, lat := range l.lats {
		for _, lon := range l.lons {
			out = append(out, f(lat, lon))
		}
	}
	return out
}

// island is a circular land mass that every ocean field leaves as no-data.
type island struct {
	lat, lon, radius float64
}

func (i island) covers(lat, lon float64) bool {
	return math.Hypot(lat-i.lat, lon-i.lon) < i.radius
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "data", "data root; raw/ and static/ are created below it")
	from := flag.String("from", "2024-06-01", "first date, YYYY-MM-DD")
	days := flag.Int("days", 3, "number of consecutive dates")
	res := flag.Float64("res", 0.05, "source resolution in degrees")
	seed := flag.Uint64("seed", 1, "noise seed")
	flag.Parse()

	start, err := domain.ParseDate(*from)
	if err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("-days must be positive")
	}

	lat := newLattice(-82, 18, -74, 28, *res)
	land := island{lat: 24, lon: -77.8, radius: 0.6}
	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	layout := catalog.Layout{RawDir: filepath.Join(*dataDir, "raw")}

	ekePath := filepath.Join(*dataDir, "raw", "EKE", "sample_eke.nc")
	if err := writeVelocity(ekePath, lat, land); err != nil {
		return err
	}
	log.Printf("wrote %s", ekePath)

	bathyPath := filepath.Join(*dataDir, "static", "bathymetry.tif")
	if err := writeBathymetry(bathyPath, lat, land); err != nil {
		return err
	}
	log.Printf("wrote %s", bathyPath)

	for i := range *days {
		d := start.AddDays(i)
		if err := writeDaily(layout, d, i, lat, land, rng); err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
		log.Printf("wrote raw inputs for %s", d)
	}

	log.Printf("lattice: %d x %d at %.3f°", len(lat.lons), len(lat.lats), lat.res)
	return nil
}

func writeDaily(layout catalog.Layout, d domain.Date, day int, l lattice, land island, rng *rand.Rand) error {
	dir := filepath.Join(layout.RawDir, d.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Warm water to the south-east, cooling with latitude, drifting warmer by day.
	sst := l.field(func(lat, lon float64) float32 {
		if land.covers(lat, lon) {
			return sstFill
		}
		c := 29.5 - 0.45*(lat-18) + 0.1*(lon+82) + 0.15*float64(day) + 0.3*math.Sin(lon*2)
		return float32(c + 273.15 + rng.NormFloat64()*0.05)
	})
	if err := raster.WriteNetCDF(layout.RawPath(d, "sst_raw.nc"), l.lats, l.lons, []raster.NetCDFVariable{
		{Name: "analysed_sst", Units: "kelvin", Fill: sstFill, Values: sst},
	}); err != nil {
		return err
	}

	// Productive water near the island with a patchy cloud gap in the north-west.
	chla := l.field(func(lat, lon float64) float32 {
		if land.covers(lat, lon) || (lat > 26.5 && lon < -80.5 && (day%2 == 0)) {
			return chlaFill
		}
		dist := math.Hypot(lat-land.lat, lon-land.lon)
		c := 0.05 + 0.6*math.Exp(-dist*dist/2) + 0.02*rng.Float64()
		return float32(c)
	})
	return raster.WriteNetCDF(layout.RawPath(d, "chla_raw.nc"), l.lats, l.lons, []raster.NetCDFVariable{
		{Name: "chlor_a", Units: "mg m-3", Fill: chlaFill, Values: chla},
	})
}

// writeVelocity writes a background current plus one anticyclonic eddy.
func writeVelocity(path string, l lattice, land island) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	const eddyLat, eddyLon, eddyR = 22.0, -79.5, 0.8
	swirl := func(lat, lon float64) (u, v float64) {
		dy, dx := lat-eddyLat, lon-eddyLon
		s := 0.6 * math.Exp(-(dx*dx+dy*dy)/(2*eddyR*eddyR))
		return 0.15 + s*dy, -s * dx
	}
	u := l.field(func(lat, lon float64) float32 {
		if land.covers(lat, lon) {
			return velFill
		}
		x, _ := swirl(lat, lon)
		return float32(x)
	})
	v := l.field(func(lat, lon float64) float32 {
		if land.covers(lat, lon) {
			return velFill
		}
		_, y := swirl(lat, lon)
		return float32(y)
	})
	return raster.WriteNetCDF(path, l.lats, l.lons, []raster.NetCDFVariable{
		{Name: "ugos", Units: "m/s", Fill: velFill, Values: u},
		{Name: "vgos", Units: "m/s", Fill: velFill, Values: v},
	})
}

// writeBathymetry writes elevation in metres: a shelf around the island
// falling off to the abyss.
func writeBathymetry(path string, l lattice, land island) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	w, h := len(l.lons), len(l.lats)
	maxLat := l.lats[h-1] + l.res/2
	minLon := l.lons[0] - l.res/2
	g := raster.New(w, h, raster.GeoTransform{OriginX: minLon, OriginY: maxLat, PixelWidth: l.res, PixelHeight: l.res}, raster.WGS84)
	for row := range h {
		lat := l.lats[h-1-row]
		for col, lon := range l.lons {
			dist := math.Hypot(lat-land.lat, lon-land.lon)
			if land.covers(lat, lon) {
				g.Set(col, row, float32(20*(land.radius-dist)))
				continue
			}
			depth := 30 + 4000*(1-math.Exp(-(dist-land.radius)*2))
			g.Set(col, row, float32(-depth))
		}
	}
	return raster.WriteFileAtomic(path, g)
}
