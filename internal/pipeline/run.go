// Package pipeline provides the high-level orchestration of a batch run: repair,
// minimization, alignment and rendering of every input with per-item failure isolation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/protein-minimizer/internal/alignment"
	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/minimization"
	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/pipeline/steps"
	"github.com/jonathan/protein-minimizer/internal/rendering"
	"github.com/jonathan/protein-minimizer/internal/repair"
	"github.com/jonathan/protein-minimizer/internal/report"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Item       int             `json:"item"`
	Total      int             `json:"total"`
	Identifier string          `json:"identifier"`
	Stage      string          `json:"stage"`
	State      types.ItemState `json:"state"`
	Message    string          `json:"message"`
}

// ProgressCallback is called when pipeline progress occurs. It may be called from
// several goroutines at once.
type ProgressCallback func(event ProgressEvent)

// Options holds configuration for running the pipeline
type Options struct {
	// Workers bounds the number of items in flight; 0 means one per CPU.
	Workers int
	// Render enables the best-effort rendering stage.
	Render bool
	// OutputDir receives minimized/ and visualizations/. Empty disables per-item files.
	OutputDir  string
	Logger     *slog.Logger
	OnProgress ProgressCallback
}

// Orchestrator drives each input through repair, minimization, alignment and rendering.
type Orchestrator struct {
	repairer  repair.Repairer
	mechanics mechanics.Mechanics
	renderer  rendering.Renderer
	opts      Options
}

// New returns an orchestrator over the three capabilities. renderer may be nil,
// in which case every item is marked RenderSkipped.
func New(repairer repair.Repairer, mech mechanics.Mechanics, renderer rendering.Renderer, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Orchestrator{repairer: repairer, mechanics: mech, renderer: renderer, opts: opts}
}

// emitProgress calls the progress callback if configured
func (o *Orchestrator) emitProgress(it *item, total int, stage, message string) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(ProgressEvent{
			Item:       it.outcome.Index,
			Total:      total,
			Identifier: it.outcome.Identifier,
			Stage:      stage,
			State:      it.outcome.State,
			Message:    message,
		})
	}
}

// Run processes every input and returns the aggregated report. Configuration errors
// and duplicate identifiers fail the whole batch before any item starts; every other
// failure is recorded on its item. Cancelling ctx lets in-flight stages finish and
// stops new items from starting; the report is still returned with Cancelled set.
func (o *Orchestrator) Run(ctx context.Context, inputs []pdb.Input, cfg types.RunConfiguration) (*types.BatchReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &minimization.ConfigurationError{Message: "invalid run configuration", Cause: err}
	}
	if _, err := mechanics.Settings(cfg); err != nil {
		return nil, &minimization.ConfigurationError{Message: "unsupported system settings", Cause: err}
	}
	if err := pdb.CheckUnique(inputs); err != nil {
		return nil, err
	}

	engine := minimization.NewEngine(o.mechanics, minimization.NewDevicePool(cfg.Devices()), o.opts.Logger)
	outcomes := make([]types.ItemOutcome, len(inputs))

	o.opts.Logger.Info("starting batch", "items", len(inputs), "workers", o.opts.Workers,
		"force_field", cfg.ForceField, "solvent", cfg.Solvent.String(), "hardware", cfg.Hardware)

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, input := range inputs {
		if ctx.Err() != nil {
			outcomes[i] = newItem(i, input.Identifier).cancelled()
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.process(ctx, engine, i, len(inputs), input, cfg)
			return nil
		})
	}
	_ = g.Wait()

	rep := report.Aggregate(outcomes)
	if ctx.Err() != nil {
		rep.Cancelled = true
	}
	o.opts.Logger.Info("batch finished", "succeeded", rep.SuccessCount(), "failed", len(rep.Failures),
		"render_warnings", len(rep.RenderWarnings), "cancelled", rep.Cancelled)
	return rep, nil
}

// process drives one item to a terminal state. It never returns an error or panics:
// every failure becomes part of the outcome.
func (o *Orchestrator) process(ctx context.Context, engine *minimization.Engine, index, total int, input pdb.Input, cfg types.RunConfiguration) (out types.ItemOutcome) {
	it := newItem(index, input.Identifier)
	logger := o.opts.Logger.With("identifier", input.Identifier)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing item", "panic", r, "stack", string(debug.Stack()))
			out = it.fail(types.FailurePanic, fmt.Errorf("panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		return it.cancelled()
	}
	// Stages run to completion once started; cancellation is observed between stages.
	stageCtx := context.WithoutCancel(ctx)

	// Stage 1: repair
	it.begin(types.StateRepaired)
	o.emitProgress(it, total, steps.StageRepair, "Repairing structure")
	repaired, err := o.repairer.Repair(stageCtx, input, cfg.PH)
	if err != nil {
		logger.Warn("repair failed", "error", err)
		return it.fail(classify(it.next, err), err)
	}
	if err := it.advance(types.StateRepaired); err != nil {
		return it.fail(types.FailurePanic, err)
	}
	if ctx.Err() != nil {
		return it.cancelled()
	}

	// Stage 2: minimization
	it.begin(types.StateMinimized)
	o.emitProgress(it, total, steps.StageMinimize, fmt.Sprintf("Minimizing %d atoms", len(repaired.Atoms)))
	minimized, trace, err := engine.Minimize(stageCtx, repaired, cfg)
	if err != nil {
		logger.Warn("minimization failed", "error", err)
		return it.fail(classify(it.next, err), err)
	}
	if err := it.advance(types.StateMinimized); err != nil {
		return it.fail(types.FailurePanic, err)
	}
	energy := types.NewEnergyRecord(input.Identifier, *trace, cfg.EnergyTolerance)
	if ctx.Err() != nil {
		return it.cancelled()
	}

	// Stage 3: alignment
	it.begin(types.StateAligned)
	o.emitProgress(it, total, steps.StageAlign, "Aligning minimized onto repaired structure")
	rmsd, overlay, err := alignment.AlignAndSuperpose(repaired, minimized)
	if err != nil {
		logger.Error("alignment failed", "error", err)
		return it.fail(classify(it.next, err), err)
	}
	if err := it.advance(types.StateAligned); err != nil {
		return it.fail(types.FailurePanic, err)
	}

	it.outcome.Energy = &energy
	it.outcome.RMSD = rmsd
	it.outcome.Platform = trace.Platform
	it.outcome.Warnings = append(it.outcome.Warnings, rmsd.Warnings...)
	if energy.EnergyIncreased {
		it.outcome.Warnings = append(it.outcome.Warnings,
			fmt.Sprintf("energy increased by %.4f kJ/mol", energy.DeltaEnergy))
	}

	perResidue := rmsd.ByResidue()
	if o.opts.OutputDir != "" {
		path := filepath.Join(o.opts.OutputDir, report.MinimizedDir, input.Identifier+report.MinimizedFileSuffix)
		if err := pdb.WriteFile(path, minimized, perResidue); err != nil {
			logger.Warn("failed to write minimized structure", "path", path, "error", err)
			it.outcome.Warnings = append(it.outcome.Warnings, fmt.Sprintf("minimized structure not written: %v", err))
		} else {
			it.outcome.Artifacts = append(it.outcome.Artifacts, path)
		}
	}

	// Stage 4: rendering (best-effort)
	switch {
	case !o.opts.Render || o.renderer == nil || o.opts.OutputDir == "":
		return it.skip(steps.StageRender)
	case ctx.Err() != nil:
		it.outcome.Warnings = append(it.outcome.Warnings, "rendering skipped: batch cancelled")
		return it.skip(steps.StageRender)
	}

	it.begin(types.StateRendered)
	o.emitProgress(it, total, steps.StageRender, "Rendering comparison")
	artifacts, err := o.render(stageCtx, rendering.Request{
		Identifier: input.Identifier,
		Reference:  repaired,
		Mobile:     overlay,
		PerResidue: perResidue,
		OutputDir:  filepath.Join(o.opts.OutputDir, report.VisualizationsDir),
	})
	if err != nil {
		logger.Warn("rendering failed", "error", err)
		it.outcome.RenderWarning = err.Error()
		return it.skip(steps.StageRender)
	}
	it.outcome.Artifacts = append(it.outcome.Artifacts, artifacts.Image, artifacts.Session)
	return it.finish(types.StateRendered)
}

// render calls the renderer, turning a panic into a RenderError so that a crashing
// renderer cannot fail an item whose numeric results are already computed.
func (o *Orchestrator) render(ctx context.Context, req rendering.Request) (artifacts *rendering.Artifacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			artifacts = nil
			err = &rendering.RenderError{Message: fmt.Sprintf("renderer panicked: %v", r)}
		}
	}()
	return o.renderer.Render(ctx, req)
}

// classify maps a stage error to its failure kind. Errors of unknown type take the
// kind of the stage they came from.
func classify(stage types.ItemState, err error) types.FailureKind {
	var (
		repairErr  *repair.RepairError
		configErr  *minimization.ConfigurationError
		minErr     *minimization.MinimizationError
		mechErr    *mechanics.MechanicsError
		topoErr    *alignment.TopologyMismatchError
		alignErr   *alignment.Error
		parseErr   *pdb.ParseError
		inputErr   *pdb.InputError
		transError *steps.TransitionError
	)
	switch {
	case errors.As(err, &repairErr):
		return types.FailureRepair
	case errors.As(err, &configErr):
		return types.FailureConfiguration
	case errors.As(err, &minErr), errors.As(err, &mechErr):
		return types.FailureMinimization
	case errors.As(err, &topoErr):
		return types.FailureTopology
	case errors.As(err, &alignErr):
		return types.FailureAlignment
	case errors.As(err, &parseErr), errors.As(err, &inputErr):
		return types.FailureInput
	case errors.As(err, &transError):
		return types.FailurePanic
	case errors.Is(err, context.Canceled):
		return types.FailureCancelled
	}
	switch stage {
	case types.StateRepaired:
		return types.FailureRepair
	case types.StateMinimized:
		return types.FailureMinimization
	case types.StateAligned:
		return types.FailureTopology
	}
	return types.FailurePanic
}
