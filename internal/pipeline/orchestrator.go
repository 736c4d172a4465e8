// Package pipeline runs the per-date processing steps that turn raw ocean
// inputs into the habitat index and its factor layers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/catalog"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/harmonize"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunHook is notified after a run completes. Hook errors are logged and
// counted but never fail the run.
type RunHook interface {
	Name() string
	RunCompleted(ctx context.Context, rec domain.RunRecord) error
}

// Options configures an Orchestrator.
type Options struct {
	Layout catalog.Layout
	Inputs Inputs
	Target harmonize.Target
	// StepTimeout bounds every step. Zero means no per-step deadline.
	StepTimeout time.Duration
	// Workers bounds concurrent harmonization within a run and concurrent
	// dates within a backfill.
	Workers         int
	BackfillWorkers int
	// VerifyChecksums re-hashes recorded outputs before reusing them.
	// Otherwise presence and size are checked.
	VerifyChecksums bool
	HookTimeout     time.Duration
}

// Orchestrator executes the steps for a date, reusing verified outputs of
// earlier runs.
type Orchestrator struct {
	opts       Options
	harmonizer *harmonize.Harmonizer
	hooks      []RunHook
	logger     *slog.Logger
	metrics    *observability.Metrics
	newRunID   func() string
}

// New creates an Orchestrator.
func New(opts Options, h *harmonize.Harmonizer, logger *slog.Logger, metrics *observability.Metrics, hooks ...RunHook) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BackfillWorkers < 1 {
		opts.BackfillWorkers = 1
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = 30 * time.Second
	}
	return &Orchestrator{
		opts:       opts,
		harmonizer: h,
		hooks:      hooks,
		logger:     logger,
		metrics:    metrics,
		newRunID:   uuid.NewString,
	}
}

// run is the mutable state of one Process call.
type run struct {
	o      *Orchestrator
	id     string
	date   domain.Date
	target harmonize.Target

	mu       sync.Mutex
	state    *State
	grids    map[domain.Layer]*raster.Grid
	executed map[domain.Layer]bool
	dirty    bool
}

// grid returns a layer produced earlier in the run, reading it from disk
// when the step was skipped.
func (r *run) grid(layer domain.Layer) (*raster.Grid, error) {
	r.mu.Lock()
	g, ok := r.grids[layer]
	r.mu.Unlock()
	if ok {
		return g, nil
	}
	g, err := raster.ReadGeoTIFF(r.o.opts.Layout.LayerPath(r.date, layer))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", layer, err)
	}
	r.mu.Lock()
	r.grids[layer] = g
	r.mu.Unlock()
	return g, nil
}

func (r *run) keep(layer domain.Layer, g *raster.Grid, executed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grids[layer] = g
	if executed {
		r.executed[layer] = true
	}
}

func (r *run) record(name string, s *StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Steps[name] = s
	r.dirty = true
}

func (r *run) recorded(name string) *StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Steps[name]
}

func (r *run) recomputed(layers []domain.Layer) (domain.Layer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range layers {
		if r.executed[l] {
			return l, true
		}
	}
	return "", false
}

// Process runs every step for date. Steps whose outputs are already
// recorded and verified are skipped, so a repeated call on a completed
// date writes nothing. A failing step aborts the run; the returned error
// wraps domain.ErrStepFailed and the result carries the failed StepResult.
func (o *Orchestrator) Process(ctx context.Context, date domain.Date) (*RunResult, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", domain.ErrInvalidInput)
	}
	if err := o.opts.Target.Validate(); err != nil {
		return nil, err
	}
	o.metrics.RunInProgress.Inc()
	defer o.metrics.RunInProgress.Dec()

	layout := o.opts.Layout
	if err := os.MkdirAll(layout.RunDir(date), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	statePath := layout.StatePath(date)
	state, err := LoadState(statePath)
	if err != nil {
		o.logger.Warn("discarding unreadable run state", "date", date, "error", err)
		state = &State{Steps: make(map[string]*StepState)}
	}

	r := &run{
		o:        o,
		id:       o.newRunID(),
		date:     date,
		target:   o.opts.Target,
		state:    state,
		grids:    make(map[domain.Layer]*raster.Grid),
		executed: make(map[domain.Layer]bool),
	}
	res := &RunResult{RunID: r.id, Date: date}
	startedAt := domain.Now()
	o.logger.Info("run started", "date", date, "run_id", r.id)

	for i, stage := range o.stages() {
		if i == 1 {
			if err := o.alignTarget(r); err != nil {
				return res, o.fail(r, res, StepResult{Step: "align_target", Outcome: StepFailed, Err: err}, statePath)
			}
		}
		results := o.runStage(ctx, r, stage)
		res.Steps = append(res.Steps, results...)
		if failed := res.Failed(); failed != nil {
			return res, o.fail(r, res, *failed, statePath)
		}
	}

	if !r.dirty && state.Status == RunCompleted {
		o.metrics.Runs.WithLabelValues("unchanged").Inc()
		o.logger.Info("run unchanged", "date", date, "run_id", r.id)
		return res, nil
	}

	tchi, err := r.grid(domain.LayerTCHI)
	if err != nil {
		return res, o.fail(r, res, StepResult{Step: "summarize", Outcome: StepFailed, Err: err}, statePath)
	}
	stats := raster.Summarize(tchi, domain.NoDataFor(domain.LayerTCHI))
	completedAt := domain.Now()
	state.Date = date
	state.RunID = r.id
	state.Status = RunCompleted
	state.StartedAt = startedAt
	state.UpdatedAt = completedAt
	state.CompletedAt = completedAt
	state.Composite = &stats
	if err := state.Save(statePath); err != nil {
		return res, fmt.Errorf("save run state: %w", err)
	}

	rec := domain.RunRecord{
		RunID:       r.id,
		Date:        date,
		Outputs:     make(map[domain.Layer]string),
		Composite:   stats,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	for _, s := range res.Steps {
		if s.Layer != "" {
			rec.Outputs[s.Layer] = s.Output
		}
	}
	o.notify(ctx, rec)

	o.metrics.Runs.WithLabelValues("completed").Inc()
	o.logger.Info("run completed",
		"date", date,
		"run_id", r.id,
		"executed", res.Executed(),
		"valid_pixels", stats.ValidPixels,
		"duration", completedAt.Sub(startedAt),
	)
	return res, nil
}

// alignTarget fixes the lattice for the remaining harmonization steps.
// Without configured bounds the harmonized SST extent is the reference.
func (o *Orchestrator) alignTarget(r *run) error {
	if r.target.Bounds != nil {
		return nil
	}
	sst, err := r.grid(domain.LayerSST)
	if err != nil {
		return err
	}
	b := sst.Bounds()
	r.target.Bounds = &b
	return nil
}

func (o *Orchestrator) fail(r *run, res *RunResult, failed StepResult, statePath string) error {
	if res.Failed() == nil {
		res.Steps = append(res.Steps, failed)
	}
	now := domain.Now()
	r.mu.Lock()
	r.state.Date = r.date
	r.state.RunID = r.id
	r.state.Status = RunFailed
	r.state.UpdatedAt = now
	r.state.CompletedAt = time.Time{}
	err := r.state.Save(statePath)
	r.mu.Unlock()
	if err != nil {
		o.logger.Error("save run state failed", "date", r.date, "error", err)
	}
	o.metrics.Runs.WithLabelValues("failed").Inc()
	o.logger.Error("run failed", "date", r.date, "run_id", r.id, "result", failed)
	return fmt.Errorf("%w: %s: %w", domain.ErrStepFailed, failed.Step, failed.Err)
}

// runStage executes the steps of a stage, concurrently when there are
// several. Results keep step order.
func (o *Orchestrator) runStage(ctx context.Context, r *run, stage []step) []StepResult {
	results := make([]StepResult, len(stage))
	if len(stage) == 1 {
		results[0] = o.execute(ctx, r, stage[0])
		return results
	}
	// The first failure cancels gctx with that error as its cause, which is
	// how execute tells interrupted siblings from genuine failures.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, st := range stage {
		g.Go(func() error {
			results[i] = o.execute(gctx, r, st)
			if results[i].Outcome == StepFailed {
				return results[i].Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Debug("stage aborted", "date", r.date, "error", err)
	}
	return results
}

// cancelledBySibling reports whether err comes from ctx being cancelled
// with another step's error as the cause, rather than from the caller.
func cancelledBySibling(ctx context.Context, err error) bool {
	cause := context.Cause(ctx)
	if cause == nil || !errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded)
}

// execute runs one step unless its recorded output can be reused.
func (o *Orchestrator) execute(ctx context.Context, r *run, st step) StepResult {
	path := o.opts.Layout.LayerPath(r.date, st.output)
	res := StepResult{Step: st.name, Layer: st.output, Output: path}

	reusable, reason := o.reusable(r, st, path)
	if reusable {
		res.Outcome = StepSkipped
		o.metrics.Steps.WithLabelValues(st.name, string(StepSkipped)).Inc()
		o.logger.Debug("step skipped", "step", st.name, "date", r.date)
		return res
	}
	if reason != "" {
		o.logger.Warn("recomputing step output", "step", st.name, "date", r.date, "reason", reason)
		res.Diagnostics = append(res.Diagnostics, reason)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("remove stale output failed", "path", path, "error", err)
		}
	}

	stepCtx := ctx
	if o.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.opts.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	g, err := st.run(stepCtx, r)
	if err == nil {
		err = raster.WriteFileAtomic(path, g)
	}
	var sum string
	var size int64
	if err == nil {
		sum, size, err = checksum(path)
	}
	res.Duration = time.Since(start)

	if err != nil && cancelledBySibling(ctx, err) {
		res.Outcome = StepCancelled
		res.Err = err
		res.Diagnostics = append(res.Diagnostics, "cancelled after a sibling step failed: "+context.Cause(ctx).Error())
		o.metrics.Steps.WithLabelValues(st.name, string(StepCancelled)).Inc()
		o.logger.Warn("step cancelled", "step", st.name, "date", r.date, "cause", context.Cause(ctx))
		return res
	}
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("step exceeded timeout of %s", o.opts.StepTimeout))
		}
		res.Diagnostics = append(res.Diagnostics, describeStep(st, r))
		res.Outcome = StepFailed
		res.Err = err
		r.record(st.name, &StepState{Status: StepFailed, Output: filepath.Base(path), Error: err.Error()})
		o.metrics.Steps.WithLabelValues(st.name, string(StepFailed)).Inc()
		return res
	}

	r.keep(st.output, g, true)
	r.record(st.name, &StepState{
		Status:      StepCompleted,
		Output:      filepath.Base(path),
		SHA256:      sum,
		Size:        size,
		CompletedAt: domain.Now(),
		DurationMS:  res.Duration.Milliseconds(),
	})
	res.Outcome = StepCompleted
	o.metrics.Steps.WithLabelValues(st.name, string(StepCompleted)).Inc()
	o.metrics.StepDuration.WithLabelValues(st.name).Observe(res.Duration.Seconds())
	o.logger.Info("step completed", "step", st.name, "date", r.date, "duration", res.Duration)
	return res
}

// reusable reports whether the output at path can stand in for running
// st. A non-empty reason means an existing output was rejected.
func (o *Orchestrator) reusable(r *run, st step, path string) (bool, string) {
	rec := r.recorded(st.name)
	info, err := os.Stat(path)
	if err != nil {
		if rec != nil && rec.Status == StepCompleted {
			return false, "recorded output is missing"
		}
		return false, ""
	}
	if l, ok := r.recomputed(st.inputs); ok {
		return false, fmt.Sprintf("input %s was recomputed", l)
	}

	if rec != nil && rec.Status == StepCompleted {
		if rec.Size != info.Size() {
			return false, fmt.Sprintf("size %d does not match recorded %d", info.Size(), rec.Size)
		}
		if o.opts.VerifyChecksums {
			sum, err := raster.FileSHA256(path)
			if err != nil {
				return false, err.Error()
			}
			if sum != rec.SHA256 {
				return false, "checksum does not match the run state"
			}
		}
		return true, ""
	}

	// An unrecorded output left by an interrupted run is adopted only if it
	// decodes. Writes are atomic, so a decodable file is complete.
	g, err := raster.ReadGeoTIFF(path)
	if err != nil {
		return false, fmt.Sprintf("existing output is unreadable: %v", err)
	}
	sum, size, err := checksum(path)
	if err != nil {
		return false, err.Error()
	}
	r.keep(st.output, g, false)
	r.record(st.name, &StepState{
		Status:      StepCompleted,
		Output:      filepath.Base(path),
		SHA256:      sum,
		Size:        size,
		CompletedAt: domain.Now(),
		Adopted:     true,
	})
	o.logger.Info("adopted existing output", "step", st.name, "date", r.date, "path", path)
	return true, ""
}

func (o *Orchestrator) notify(ctx context.Context, rec domain.RunRecord) {
	for _, h := range o.hooks {
		hctx, cancel := context.WithTimeout(ctx, o.opts.HookTimeout)
		err := h.RunCompleted(hctx, rec)
		cancel()
		if err != nil {
			o.metrics.RunHookErrors.WithLabelValues(h.Name()).Inc()
			o.logger.Warn("run hook failed", "hook", h.Name(), "date", rec.Date, "error", err)
		}
	}
}

// Backfill processes every date in [from, to], running up to
// BackfillWorkers dates at once. A failed date does not stop the others;
// results are returned in date order together with the joined errors.
func (o *Orchestrator) Backfill(ctx context.Context, from, to domain.Date) ([]*RunResult, error) {
	dates, err := domain.DateRange(from, to)
	if err != nil {
		return nil, err
	}
	results := make([]*RunResult, len(dates))
	errs := make([]error, len(dates))

	var g errgroup.Group
	g.SetLimit(o.opts.BackfillWorkers)
	for i, d := range dates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", d, err)
				return nil
			}
			results[i], errs[i] = o.Process(ctx, d)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", d, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func checksum(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat output: %w", err)
	}
	sum, err := raster.FileSHA256(path)
	if err != nil {
		return "", 0, err
	}
	return sum, info.Size(), nil
}
