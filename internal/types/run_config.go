package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ForceField names a molecular-mechanics parameter set.
type ForceField string

// Supported force fields
const (
	CHARMM36  ForceField = "CHARMM36"
	AMBER14   ForceField = "AMBER14"
	AMBER99SB ForceField = "AMBER99SB"
	AMBER03   ForceField = "AMBER03"
	AMBER10   ForceField = "AMBER10"
)

// ForceFieldSpec describes the parameter files backing a force field.
type ForceFieldSpec struct {
	Name               ForceField `json:"name"`
	ExplicitFiles      []string   `json:"explicit_files"`
	MainFile           string     `json:"main_file"`
	SPCEFile           string     `json:"spce_file"`
	ImplicitCompatible bool       `json:"implicit_compatible"`
}

// ForceFields lists every supported force field in presentation order.
var ForceFields = []ForceFieldSpec{
	{Name: CHARMM36, ExplicitFiles: []string{"charmm36.xml", "charmm36/water.xml"}, MainFile: "charmm36.xml", SPCEFile: "charmm36/spce.xml", ImplicitCompatible: false},
	{Name: AMBER14, ExplicitFiles: []string{"amber14-all.xml", "amber14/tip3p.xml"}, MainFile: "amber14-all.xml", SPCEFile: "amber14/spce.xml", ImplicitCompatible: true},
	{Name: AMBER99SB, ExplicitFiles: []string{"amber99sb.xml", "tip3p.xml"}, MainFile: "amber99sb.xml", SPCEFile: "spce.xml", ImplicitCompatible: true},
	{Name: AMBER03, ExplicitFiles: []string{"amber03.xml", "tip3p.xml"}, MainFile: "amber03.xml", SPCEFile: "spce.xml", ImplicitCompatible: true},
	{Name: AMBER10, ExplicitFiles: []string{"amber10.xml", "tip3p.xml"}, MainFile: "amber10.xml", SPCEFile: "spce.xml", ImplicitCompatible: true},
}

// LookupForceField returns the spec for a force field name (case-insensitive).
func LookupForceField(name string) (ForceFieldSpec, bool) {
	for _, ff := range ForceFields {
		if strings.EqualFold(string(ff.Name), name) {
			return ff, true
		}
	}
	return ForceFieldSpec{}, false
}

// SolventKind is the tag of the SolventModel variant.
type SolventKind string

// Solvent kinds
const (
	SolventNone     SolventKind = "none"
	SolventExplicit SolventKind = "explicit"
	SolventImplicit SolventKind = "implicit"
)

// WaterModel selects an explicit water model.
type WaterModel string

// Water models
const (
	TIP3P WaterModel = "tip3p"
	SPCE  WaterModel = "spce"
)

// ImplicitModel selects a generalized-Born implicit solvent model.
type ImplicitModel string

// Implicit solvent models
const (
	GBn2 ImplicitModel = "GBn2"
	OBC2 ImplicitModel = "OBC2"
)

// SolventModel is a tagged variant: exactly one of WaterModel / Implicit is set,
// matching Kind. Kind none carries neither.
type SolventModel struct {
	Kind       SolventKind   `json:"kind" yaml:"kind" validate:"required,oneof=none explicit implicit"`
	WaterModel WaterModel    `json:"water_model,omitempty" yaml:"water_model,omitempty" validate:"omitempty,oneof=tip3p spce"`
	Implicit   ImplicitModel `json:"implicit_model,omitempty" yaml:"implicit_model,omitempty" validate:"omitempty,oneof=GBn2 OBC2"`
}

// NoSolvent returns the vacuum solvent model.
func NoSolvent() SolventModel { return SolventModel{Kind: SolventNone} }

// Explicit returns an explicit solvent model with the given water model.
func Explicit(water WaterModel) SolventModel {
	return SolventModel{Kind: SolventExplicit, WaterModel: water}
}

// Implicit returns an implicit solvent model.
func Implicit(model ImplicitModel) SolventModel {
	return SolventModel{Kind: SolventImplicit, Implicit: model}
}

// ParseSolvent accepts the short names used on the command line and in config files:
// none, tip3p, spce, gbn2, obc2.
func ParseSolvent(name string) (SolventModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "vacuum":
		return NoSolvent(), nil
	case "tip3p":
		return Explicit(TIP3P), nil
	case "spce", "spc/e":
		return Explicit(SPCE), nil
	case "gbn2":
		return Implicit(GBn2), nil
	case "obc2":
		return Implicit(OBC2), nil
	}
	return SolventModel{}, fmt.Errorf("unknown solvent model %q (want none, tip3p, spce, gbn2 or obc2)", name)
}

// String returns a human readable label, e.g. "Explicit TIP3P".
func (s SolventModel) String() string {
	switch s.Kind {
	case SolventExplicit:
		if s.WaterModel == SPCE {
			return "Explicit SPC/E"
		}
		return "Explicit " + strings.ToUpper(string(s.WaterModel))
	case SolventImplicit:
		return "Implicit " + string(s.Implicit)
	}
	return "None"
}

func (s SolventModel) variantError() error {
	switch s.Kind {
	case SolventExplicit:
		if s.WaterModel == "" || s.Implicit != "" {
			return fmt.Errorf("explicit solvent requires a water model and no implicit model")
		}
	case SolventImplicit:
		if s.Implicit == "" || s.WaterModel != "" {
			return fmt.Errorf("implicit solvent requires an implicit model and no water model")
		}
	case SolventNone:
		if s.Implicit != "" || s.WaterModel != "" {
			return fmt.Errorf("solvent kind none cannot carry a model")
		}
	}
	return nil
}

// Hardware selects where minimization runs.
type Hardware string

// Hardware modes
const (
	CPU Hardware = "CPU"
	GPU Hardware = "GPU"
)

// DefaultMaxIterations is the iteration budget when none is configured.
const DefaultMaxIterations = 500

// DefaultEnergyTolerance is the largest positive energy delta (kJ/mol) accepted
// before a minimization is flagged.
const DefaultEnergyTolerance = 1e-3

// RunConfiguration is the immutable per-batch parameter set. It is passed by value
// through every call and never read from global state.
type RunConfiguration struct {
	ForceField    ForceField   `json:"force_field" validate:"required,oneof=CHARMM36 AMBER14 AMBER99SB AMBER03 AMBER10"`
	Solvent       SolventModel `json:"solvent"`
	MaxIterations int          `json:"max_iterations" validate:"gt=0"`
	Hardware      Hardware     `json:"hardware" validate:"required,oneof=CPU GPU"`

	// GPUPlatform is the mechanics platform used when Hardware is GPU (CUDA or OpenCL).
	GPUPlatform string `json:"gpu_platform,omitempty" validate:"omitempty,oneof=CUDA OpenCL"`
	// GPUDevices lists device indices; minimizations are serialized per device.
	GPUDevices []int `json:"gpu_devices,omitempty" validate:"omitempty,dive,gte=0"`
	// GPUFallback lets the mechanics capability fall back to CPU when the GPU platform fails.
	GPUFallback bool `json:"gpu_fallback,omitempty"`
	// CPUThreads is 0 for "all available".
	CPUThreads int `json:"cpu_threads,omitempty" validate:"gte=0"`
	// EnergyTolerance bounds the accepted positive energy delta (kJ/mol).
	EnergyTolerance float64 `json:"energy_tolerance" validate:"gte=0"`
	// ConvergenceTolerance is the gradient-norm threshold (kJ/mol/nm) signalling convergence.
	ConvergenceTolerance float64 `json:"convergence_tolerance" validate:"gte=0"`
	// PH is the pH used when adding hydrogens during repair.
	PH float64 `json:"ph" validate:"gte=0,lte=14"`
}

// DefaultRunConfiguration returns AMBER14 in explicit TIP3P on CPU.
func DefaultRunConfiguration() RunConfiguration {
	return RunConfiguration{
		ForceField:           AMBER14,
		Solvent:              Explicit(TIP3P),
		MaxIterations:        DefaultMaxIterations,
		Hardware:             CPU,
		GPUPlatform:          "CUDA",
		EnergyTolerance:      DefaultEnergyTolerance,
		ConvergenceTolerance: 10,
		PH:                   7.4,
	}
}

// Devices returns the GPU devices to schedule on, defaulting to device 0.
func (c RunConfiguration) Devices() []int {
	if len(c.GPUDevices) == 0 {
		return []int{0}
	}
	return c.GPUDevices
}

// ForceFieldSpec returns the spec for the configured force field.
func (c RunConfiguration) ForceFieldSpec() (ForceFieldSpec, bool) {
	return LookupForceField(string(c.ForceField))
}

// Validate checks field ranges, the solvent variant, and force-field/solvent compatibility.
func (c RunConfiguration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Solvent.variantError(); err != nil {
		return err
	}
	return c.CheckCompatibility()
}

// CheckCompatibility reports whether the force field carries parameters for the solvent model.
func (c RunConfiguration) CheckCompatibility() error {
	spec, ok := c.ForceFieldSpec()
	if !ok {
		return fmt.Errorf("unknown force field %q", c.ForceField)
	}
	if c.Solvent.Kind == SolventImplicit && !spec.ImplicitCompatible {
		return fmt.Errorf("force field %s does not support implicit solvent model %s", spec.Name, c.Solvent.Implicit)
	}
	return nil
}

// WithCompatibleForceField returns a copy of c with the force field switched to the first
// implicit-compatible one when the current choice cannot run the configured implicit solvent.
// The boolean reports whether a switch happened.
func (c RunConfiguration) WithCompatibleForceField() (RunConfiguration, bool) {
	if c.CheckCompatibility() == nil || c.Solvent.Kind != SolventImplicit {
		return c, false
	}
	for _, ff := range ForceFields {
		if ff.ImplicitCompatible {
			c.ForceField = ff.Name
			return c, true
		}
	}
	return c, false
}
