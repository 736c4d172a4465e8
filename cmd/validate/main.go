// Command validate checks the integrity of processed dates: the run state
// record, the recorded checksums, co-registration of every layer, and the
// physical range of each layer's valid pixels.
//
// Usage:
//
//	go run ./cmd/validate -processed-dir data/processed -date 2024-06-01
//	go run ./cmd/validate -processed-dir data/processed -all
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/pipeline"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// valueRange is the inclusive span a layer's valid pixels must fall in.
type valueRange struct {
	lo, hi float64
}

var layerRanges = []struct {
	layer domain.Layer
	valueRange
}{
	{domain.LayerSST, valueRange{-5, 40}},
	{domain.LayerChla, valueRange{0, 100}},
	{domain.LayerUGOS, valueRange{-500, 500}},
	{domain.LayerVGOS, valueRange{-500, 500}},
	{domain.LayerEKE, valueRange{0, math.Inf(1)}},
	{domain.LayerTFG, valueRange{0, math.Inf(1)}},
	{domain.LayerBathy, valueRange{0, 11000}},
	{domain.LayerSuitSST, valueRange{0, 1}},
	{domain.LayerSuitChla, valueRange{0, 1}},
	{domain.LayerSuitTFG, valueRange{0, 1}},
	{domain.LayerSuitEKE, valueRange{0, 1}},
	{domain.LayerSuitBathy, valueRange{0, 1}},
	{domain.LayerTCHI, valueRange{0, 1}},
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	processedDir := flag.String("processed-dir", "data/processed", "processed output root")
	date := flag.String("date", "", "date to validate, YYYY-MM-DD")
	all := flag.Bool("all", false, "validate every completed date")
	flag.Parse()

	if (*date == "") == !*all {
		flag.Usage()
		os.Exit(1)
	}

	layout := catalog.Layout{ProcessedDir: *processedDir}
	var dates []domain.Date
	if *all {
		var err error
		if dates, err = layout.CompletedDates(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: list dates: %v\n", err)
			os.Exit(1)
		}
	} else {
		d, err := domain.ParseDate(*date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		dates = []domain.Date{d}
	}

	if code := run(os.Stdout, layout, dates); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, layout catalog.Layout, dates []domain.Date) int {
	fmt.Fprintln(w, "=== Processed Raster Validation ===")
	if len(dates) == 0 {
		fmt.Fprintln(w, "\nNo completed dates found.")
		return 1
	}

	allPassed := true
	for _, d := range dates {
		phases := validateDate(layout, d)
		fmt.Fprintf(w, "\n%s\n", d)
		for _, p := range phases {
			status := "\033[32mPASS\033[0m"
			if !p.passed() {
				status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
				allPassed = false
			}
			fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
		}
		for _, p := range phases {
			if p.passed() {
				continue
			}
			fmt.Fprintf(w, "\n--- %s: %s ---\n", d, p.name)
			for i, e := range p.errors {
				fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
			}
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// validateDate runs every phase for d. Later phases work on whatever
// layers could be decoded.
func validateDate(layout catalog.Layout, d domain.Date) []*phase {
	state, statePhase := validateState(layout, d)
	grids, decodePhase := loadLayers(layout, d)
	return []*phase{
		statePhase,
		validateChecksums(state),
		decodePhase,
		validateCoRegistration(grids),
		validateRanges(grids),
	}
}

// ── Phases ──

func validateState(layout catalog.Layout, d domain.Date) (*pipeline.State, *phase) {
	p := &phase{name: "State record"}
	state, err := pipeline.LoadState(layout.StatePath(d))
	if err != nil {
		p.errorf("%v", err)
		return nil, p
	}
	if state.Status != pipeline.RunCompleted {
		p.errorf("status is %q, want %q", state.Status, pipeline.RunCompleted)
	}
	if state.Date != d {
		p.errorf("record is for %s", state.Date)
	}
	if state.RunID == "" {
		p.errorf("run_id is empty")
	}
	if state.Composite == nil || state.Composite.ValidPixels == 0 {
		p.errorf("composite has no valid pixels")
	}
	for name, s := range state.Steps {
		if s.Status == pipeline.StepFailed {
			p.errorf("step %s failed: %s", name, s.Error)
		}
	}
	return state, p
}

func validateChecksums(state *pipeline.State) *phase {
	p := &phase{name: "Checksums"}
	if state == nil {
		p.errorf("no state record")
		return p
	}
	for name, s := range state.Steps {
		if s.SHA256 == "" {
			continue
		}
		sum, err := raster.FileSHA256(s.Output)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if sum != s.SHA256 {
			p.errorf("%s: %s has sha256 %s, recorded %s", name, s.Output, sum, s.SHA256)
		}
	}
	return p
}

func loadLayers(layout catalog.Layout, d domain.Date) (map[domain.Layer]*raster.Grid, *phase) {
	p := &phase{name: "Decode layers"}
	grids := make(map[domain.Layer]*raster.Grid, len(layerRanges))
	for _, lr := range layerRanges {
		g, err := raster.ReadGeoTIFF(layout.LayerPath(d, lr.layer))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				p.errorf("%s: missing", lr.layer)
			} else {
				p.errorf("%s: %v", lr.layer, err)
			}
			continue
		}
		grids[lr.layer] = g
	}
	return grids, p
}

func validateCoRegistration(grids map[domain.Layer]*raster.Grid) *phase {
	p := &phase{name: "Co-registration"}
	ref, ok := grids[domain.LayerTCHI]
	if !ok {
		p.errorf("no composite to compare against")
		return p
	}
	for l, g := range grids {
		if err := raster.CheckLattice(ref, map[string]*raster.Grid{string(l): g}); err != nil {
			p.errorf("%v", err)
		}
		if g.CRS.EPSG != ref.CRS.EPSG {
			p.errorf("%s: CRS %s, composite %s", l, g.CRS, ref.CRS)
		}
	}
	return p
}

func validateRanges(grids map[domain.Layer]*raster.Grid) *phase {
	p := &phase{name: "Value ranges"}
	for _, lr := range layerRanges {
		g, ok := grids[lr.layer]
		if !ok {
			continue
		}
		rule := domain.NoDataFor(lr.layer)
		bad := 0
		var first float32
		for _, v := range g.Data {
			if !g.ValidUnder(v, rule) {
				continue
			}
			if f := float64(v); f < lr.lo || f > lr.hi {
				if bad == 0 {
					first = v
				}
				bad++
			}
		}
		if bad > 0 {
			p.errorf("%s: %d pixels outside [%g, %g], e.g. %g", lr.layer, bad, lr.lo, lr.hi, first)
		}
	}
	return p
}
