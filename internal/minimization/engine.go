// Package minimization validates run parameters, drives the mechanics backend through a
// bounded minimization, and turns its output into a minimized structure and energy trace.
package minimization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// Engine minimizes structures with a mechanics backend.
type Engine struct {
	mechanics mechanics.Mechanics
	logger    *slog.Logger

	mu      sync.Mutex
	devices *DevicePool
}

// NewEngine returns an engine. devices may be nil, in which case a GPU run builds a pool
// from its configured devices on first use.
func NewEngine(m mechanics.Mechanics, devices *DevicePool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{mechanics: m, devices: devices, logger: logger}
}

// Validate checks cfg on its own and against the structure. Every failure is a ConfigurationError.
func Validate(structure *types.StructureRecord, cfg types.RunConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigurationError{Message: "invalid run configuration", Cause: err}
	}
	if _, err := mechanics.Settings(cfg); err != nil {
		return &ConfigurationError{Message: "unsupported system settings", Cause: err}
	}
	if structure == nil || len(structure.Atoms) == 0 {
		return &ConfigurationError{Message: "structure has no atoms to minimize"}
	}
	if structure.Stage == types.StageMinimized {
		return &ConfigurationError{Message: fmt.Sprintf("%s is already minimized", structure.Identifier)}
	}
	return nil
}

// Minimize runs a bounded minimization and returns a new record at StageMinimized with the
// same topology as structure, plus the energy trace. The input record is not modified.
// Reaching the iteration budget and early convergence are both success.
func (e *Engine) Minimize(ctx context.Context, structure *types.StructureRecord, cfg types.RunConfiguration) (*types.StructureRecord, *types.EnergyTrace, error) {
	if err := Validate(structure, cfg); err != nil {
		return nil, nil, err
	}
	id := structure.Identifier

	device := mechanics.NoDevice
	if cfg.Hardware == types.GPU {
		d, release, err := e.pool(cfg).Acquire(ctx)
		if err != nil {
			return nil, nil, &MinimizationError{Identifier: id, Message: "no GPU device became available", Cause: err}
		}
		defer release()
		device = d
		e.logger.Debug("acquired GPU device", "identifier", id, "device", device)
	}

	result, err := e.mechanics.BuildAndMinimize(ctx, mechanics.Request{
		Structure: structure,
		Config:    cfg,
		Device:    device,
	})
	if err != nil {
		minErr := &MinimizationError{Identifier: id, Message: "mechanics backend failed", Cause: err}
		var mechErr *mechanics.MechanicsError
		if errors.As(err, &mechErr) {
			minErr.Trace = mechErr.Trace
		}
		return nil, nil, minErr
	}

	trace := result.Trace()
	if result.Iterations > cfg.MaxIterations {
		return nil, nil, &MinimizationError{
			Identifier: id,
			Message:    fmt.Sprintf("backend ran %d iterations, budget is %d", result.Iterations, cfg.MaxIterations),
			Trace:      &trace,
		}
	}
	if !finite(result.InitialEnergy) || !finite(result.FinalEnergy) {
		return nil, nil, &MinimizationError{Identifier: id, Message: "energy is not finite", Trace: &trace}
	}
	for i, c := range result.Coords {
		if !finite(c[0]) || !finite(c[1]) || !finite(c[2]) {
			return nil, nil, &MinimizationError{Identifier: id, Message: fmt.Sprintf("atom %d has non-finite coordinates", i), Trace: &trace}
		}
	}

	minimized, err := structure.WithCoords(types.StageMinimized, result.Coords)
	if err != nil {
		return nil, nil, &MinimizationError{Identifier: id, Message: "coordinate extraction failed", Trace: &trace, Cause: err}
	}

	if delta := trace.Delta(); delta > cfg.EnergyTolerance {
		e.logger.Warn("energy increased during minimization",
			"identifier", id, "initial", trace.InitialEnergy, "final", trace.FinalEnergy,
			"delta", delta, "tolerance", cfg.EnergyTolerance)
	}
	e.logger.Debug("minimization finished", "identifier", id,
		"initial", trace.InitialEnergy, "final", trace.FinalEnergy,
		"iterations", trace.Iterations, "platform", trace.Platform)
	return minimized, &trace, nil
}

func (e *Engine) pool(cfg types.RunConfiguration) *DevicePool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.devices == nil {
		e.devices = NewDevicePool(cfg.Devices())
	}
	return e.devices
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
