// Package mechanics is the boundary to the molecular-mechanics engine: it builds a
// physical system from a structure and a run configuration and minimizes its energy.
package mechanics

import (
	"context"
	"fmt"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// NoDevice is the Request.Device value for CPU runs.
const NoDevice = -1

// Request is a single build-and-minimize call.
type Request struct {
	Structure *types.StructureRecord
	Config    types.RunConfiguration
	// Device is the GPU index reserved for this call, or NoDevice.
	Device int
}

// Result carries minimized solute coordinates in the input atom order.
type Result struct {
	Coords        []types.Coord
	InitialEnergy float64
	FinalEnergy   float64
	Iterations    int
	Converged     bool
	Platform      string
}

// Trace converts the result into an energy trace.
func (r *Result) Trace() types.EnergyTrace {
	return types.EnergyTrace{
		InitialEnergy: r.InitialEnergy,
		FinalEnergy:   r.FinalEnergy,
		HasFinal:      true,
		Iterations:    r.Iterations,
		Converged:     r.Converged,
		Platform:      r.Platform,
	}
}

// Mechanics builds a system and runs a bounded minimization.
// Implementations must not be called concurrently for the same GPU device.
type Mechanics interface {
	BuildAndMinimize(ctx context.Context, req Request) (*Result, error)
}

// Nonbonded methods
const (
	MethodPME      = "PME"
	MethodNoCutoff = "NoCutoff"
)

// SystemSettings are the physical parameters used to build a system. They are
// recorded in run metadata so a batch can be reproduced.
type SystemSettings struct {
	ForceFieldFiles   []string `json:"force_field_files"`
	SolventKind       string   `json:"solvent_kind"`
	WaterModel        string   `json:"water_model,omitempty"`
	NonbondedMethod   string   `json:"nonbonded_method"`
	NonbondedCutoffNM float64  `json:"nonbonded_cutoff_nm,omitempty"`
	PaddingNM         float64  `json:"padding_nm,omitempty"`
	SoluteDielectric  float64  `json:"solute_dielectric,omitempty"`
	SolventDielectric float64  `json:"solvent_dielectric,omitempty"`
	TemperatureK      float64  `json:"temperature_k"`
	FrictionPerPS     float64  `json:"friction_per_ps"`
	TimestepPS        float64  `json:"timestep_ps"`
}

// implicitFiles maps implicit models to their parameter files.
var implicitFiles = map[types.ImplicitModel]string{
	types.GBn2: "implicit/gbn2.xml",
	types.OBC2: "implicit/obc2.xml",
}

// Settings derives system settings from a run configuration.
func Settings(cfg types.RunConfiguration) (SystemSettings, error) {
	spec, ok := cfg.ForceFieldSpec()
	if !ok {
		return SystemSettings{}, &SettingsError{Message: fmt.Sprintf("unknown force field %q", cfg.ForceField)}
	}

	s := SystemSettings{
		SolventKind:   string(cfg.Solvent.Kind),
		TemperatureK:  300,
		FrictionPerPS: 1,
		TimestepPS:    0.002,
	}

	switch cfg.Solvent.Kind {
	case types.SolventExplicit:
		s.ForceFieldFiles = append([]string(nil), spec.ExplicitFiles...)
		if cfg.Solvent.WaterModel == types.SPCE {
			s.ForceFieldFiles = []string{spec.MainFile, spec.SPCEFile}
		}
		s.WaterModel = string(cfg.Solvent.WaterModel)
		s.NonbondedMethod = MethodPME
		s.NonbondedCutoffNM = 1.0
		s.PaddingNM = 1.0
	case types.SolventImplicit:
		if !spec.ImplicitCompatible {
			return SystemSettings{}, &SettingsError{Message: fmt.Sprintf("%s has no implicit solvent parameters", spec.Name)}
		}
		file, ok := implicitFiles[cfg.Solvent.Implicit]
		if !ok {
			return SystemSettings{}, &SettingsError{Message: fmt.Sprintf("unknown implicit model %q", cfg.Solvent.Implicit)}
		}
		s.ForceFieldFiles = []string{spec.MainFile, file}
		s.NonbondedMethod = MethodNoCutoff
		s.SoluteDielectric = 1.0
		s.SolventDielectric = 78.5
	case types.SolventNone:
		s.ForceFieldFiles = []string{spec.MainFile}
		s.NonbondedMethod = MethodNoCutoff
	default:
		return SystemSettings{}, &SettingsError{Message: fmt.Sprintf("unknown solvent kind %q", cfg.Solvent.Kind)}
	}
	return s, nil
}
