package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/derive"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/harmonize"
	"github.com/couchcryptid/tchi-pipeline/internal/model"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// StepOutcome is how a step ended within one invocation.
type StepOutcome string

const (
	StepCompleted StepOutcome = "completed"
	StepSkipped   StepOutcome = "skipped"
	StepFailed    StepOutcome = "failed"
	// StepCancelled marks a step interrupted because another step of the
	// same stage failed. It is not a failure of its own.
	StepCancelled StepOutcome = "cancelled"
)

// StepResult reports one step of a run.
type StepResult struct {
	Step        string
	Layer       domain.Layer
	Output      string
	Outcome     StepOutcome
	Duration    time.Duration
	Err         error
	Diagnostics []string
}

// LogValue renders the result in full for structured logs.
func (r StepResult) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("step", r.Step),
		slog.String("outcome", string(r.Outcome)),
		slog.String("output", r.Output),
		slog.Duration("duration", r.Duration),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}
	if len(r.Diagnostics) > 0 {
		attrs = append(attrs, slog.Any("diagnostics", r.Diagnostics))
	}
	return slog.GroupValue(attrs...)
}

// RunResult collects the step results of one Process call.
type RunResult struct {
	RunID string
	Date  domain.Date
	Steps []StepResult
}

// Executed counts steps that recomputed their output.
func (r *RunResult) Executed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == StepCompleted {
			n++
		}
	}
	return n
}

// Failed returns the first failed step, or nil. Cancelled steps are never
// reported here; the step that caused the cancellation is.
func (r *RunResult) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Outcome == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// step is one unit of work producing a single output layer.
type step struct {
	name   string
	output domain.Layer
	// inputs are layers produced earlier in the run; recomputing any of them
	// invalidates this step's recorded output.
	inputs   []domain.Layer
	describe func(r *run) string
	run      func(ctx context.Context, r *run) (*raster.Grid, error)
}

// Inputs names the raw sources read by the harmonization steps.
type Inputs struct {
	SSTFile            string
	SSTVariable        string
	ChlaFile           string
	ChlaVariable       string
	EKEPath            string
	UVariable          string
	VVariable          string
	BathymetryPath     string
	BathymetryVariable string
}

// DefaultInputs returns the standard raw file names with the given fixed sources.
func DefaultInputs(ekePath, bathymetryPath string) Inputs {
	return Inputs{
		SSTFile:        "sst_raw.nc",
		SSTVariable:    "analysed_sst",
		ChlaFile:       "chla_raw.nc",
		ChlaVariable:   "chlor_a",
		EKEPath:        ekePath,
		UVariable:      "ugos",
		VVariable:      "vgos",
		BathymetryPath: bathymetryPath,
	}
}

// stages returns the run's steps grouped into stages. Steps inside a stage
// are independent and may run concurrently; stages run in order.
func (o *Orchestrator) stages() [][]step {
	in := o.opts.Inputs
	daily := func(file, variable string) func(domain.Date) harmonize.SourceRef {
		return func(d domain.Date) harmonize.SourceRef {
			return harmonize.SourceRef{Path: o.opts.Layout.RawPath(d, file), Variable: variable}
		}
	}
	fixed := func(path, variable string) func(domain.Date) harmonize.SourceRef {
		return func(domain.Date) harmonize.SourceRef {
			return harmonize.SourceRef{Path: path, Variable: variable}
		}
	}

	stages := [][]step{
		{o.harmonizeStep(domain.LayerSST, daily(in.SSTFile, in.SSTVariable), harmonize.KelvinToCelsius)},
		{
			o.harmonizeStep(domain.LayerChla, daily(in.ChlaFile, in.ChlaVariable), harmonize.Identity),
			o.harmonizeStep(domain.LayerUGOS, fixed(in.EKEPath, in.UVariable), harmonize.MetresToCentimetres),
			o.harmonizeStep(domain.LayerVGOS, fixed(in.EKEPath, in.VVariable), harmonize.MetresToCentimetres),
			o.harmonizeStep(domain.LayerBathy, fixed(in.BathymetryPath, in.BathymetryVariable), harmonize.ElevationToDepth),
		},
		{{
			name:   "derive_eke",
			output: domain.LayerEKE,
			inputs: []domain.Layer{domain.LayerUGOS, domain.LayerVGOS},
			run: func(ctx context.Context, r *run) (*raster.Grid, error) {
				u, err := r.grid(domain.LayerUGOS)
				if err != nil {
					return nil, err
				}
				v, err := r.grid(domain.LayerVGOS)
				if err != nil {
					return nil, err
				}
				return derive.EddyKineticEnergy(ctx, u, v)
			},
		}},
		{{
			name:   "derive_tfg",
			output: domain.LayerTFG,
			inputs: []domain.Layer{domain.LayerSST},
			run: func(ctx context.Context, r *run) (*raster.Grid, error) {
				sst, err := r.grid(domain.LayerSST)
				if err != nil {
					return nil, err
				}
				return derive.FrontGradient(ctx, sst)
			},
		}},
	}
	for _, f := range domain.Factors {
		stages = append(stages, []step{suitabilityStep(f)})
	}
	return append(stages, []step{compositeStep()})
}

func (o *Orchestrator) harmonizeStep(layer domain.Layer, src func(domain.Date) harmonize.SourceRef, norm harmonize.Normalizer) step {
	return step{
		name:   "harmonize_" + string(layer),
		output: layer,
		describe: func(r *run) string {
			return "source " + src(r.date).String()
		},
		run: func(ctx context.Context, r *run) (*raster.Grid, error) {
			ref := src(r.date)
			ref.Layer = layer
			return o.harmonizer.Harmonize(ctx, ref, r.target, norm, "")
		},
	}
}

func suitabilityStep(f domain.Factor) step {
	return step{
		name:   "suitability_" + string(f),
		output: f.SuitabilityLayer(),
		inputs: []domain.Layer{f.Layer()},
		run: func(ctx context.Context, r *run) (*raster.Grid, error) {
			in, err := r.grid(f.Layer())
			if err != nil {
				return nil, err
			}
			return model.Suitability(ctx, f, in)
		},
	}
}

func compositeStep() step {
	inputs := make([]domain.Layer, 0, len(domain.Factors))
	for _, f := range domain.Factors {
		inputs = append(inputs, f.SuitabilityLayer())
	}
	return step{
		name:   "composite",
		output: domain.LayerTCHI,
		inputs: inputs,
		run: func(ctx context.Context, r *run) (*raster.Grid, error) {
			scores := make(map[domain.Factor]*raster.Grid, len(domain.Factors))
			for _, f := range domain.Factors {
				g, err := r.grid(f.SuitabilityLayer())
				if err != nil {
					return nil, err
				}
				scores[f] = g
			}
			return model.Composite(ctx, scores)
		},
	}
}

// describeStep lists what a step read, for failure diagnostics.
func describeStep(st step, r *run) string {
	if st.describe != nil {
		return st.describe(r)
	}
	return fmt.Sprintf("inputs %v", st.inputs)
}
