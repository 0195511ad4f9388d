// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/protein-minimizer/internal/observability"
	"github.com/jonathan/protein-minimizer/internal/rendering"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// Config represents the CLI configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Paths
	InputDir  string `json:"input_dir,omitempty" yaml:"input_dir,omitempty"`   // Directory of *.pdb / *.pdb.gz inputs
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"` // Directory receiving all artifacts

	// Physics
	ForceField           string   `json:"force_field,omitempty" yaml:"force_field,omitempty"`                     // CHARMM36, AMBER14, AMBER99SB, AMBER03, AMBER10
	Solvent              string   `json:"solvent,omitempty" yaml:"solvent,omitempty"`                             // none, tip3p, spce, gbn2, obc2
	MaxIterations        int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`               // Minimization iteration budget
	PH                   float64  `json:"ph,omitempty" yaml:"ph,omitempty"`                                       // pH used when adding hydrogens
	EnergyTolerance      *float64 `json:"energy_tolerance,omitempty" yaml:"energy_tolerance,omitempty"`           // Accepted positive energy delta (kJ/mol); nil = default, 0 is honored
	ConvergenceTolerance float64  `json:"convergence_tolerance,omitempty" yaml:"convergence_tolerance,omitempty"` // Gradient threshold (kJ/mol/nm)
	AutoSwitchForceField bool     `json:"auto_switch_force_field,omitempty" yaml:"auto_switch_force_field,omitempty"`

	// Hardware
	Hardware    string `json:"hardware,omitempty" yaml:"hardware,omitempty"`         // CPU or GPU
	GPUPlatform string `json:"gpu_platform,omitempty" yaml:"gpu_platform,omitempty"` // CUDA or OpenCL
	GPUDevices  []int  `json:"gpu_devices,omitempty" yaml:"gpu_devices,omitempty"`
	GPUFallback bool   `json:"gpu_fallback,omitempty" yaml:"gpu_fallback,omitempty"` // Fall back to CPU if the GPU platform fails
	CPUThreads  int    `json:"cpu_threads,omitempty" yaml:"cpu_threads,omitempty"`   // 0 = all available
	Workers     int    `json:"workers,omitempty" yaml:"workers,omitempty"`           // Items processed in parallel

	// Rendering
	Render      bool `json:"render,omitempty" yaml:"render,omitempty"`
	ImageWidth  int  `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight int  `json:"image_height,omitempty" yaml:"image_height,omitempty"`
	ImageDPI    int  `json:"image_dpi,omitempty" yaml:"image_dpi,omitempty"`

	// External tools
	PDBFixerPath string `json:"pdbfixer_path,omitempty" yaml:"pdbfixer_path,omitempty"`
	PythonPath   string `json:"python_path,omitempty" yaml:"python_path,omitempty"`
	PyMOLPath    string `json:"pymol_path,omitempty" yaml:"pymol_path,omitempty"`
	KeepWorkDir  bool   `json:"keep_work_dir,omitempty" yaml:"keep_work_dir,omitempty"` // Leave minimization scratch directories on disk

	// Behavior
	Verbose     bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`           // Print detailed debug information
	LogFormat   string `json:"log_format,omitempty" yaml:"log_format,omitempty"`     // text or json
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL
}

// Defaults returns the configuration used when neither the file nor flags set a value.
func Defaults() Config {
	run := types.DefaultRunConfiguration()
	render := rendering.DefaultSettings()
	return Config{
		OutputDir:            "output",
		ForceField:           string(run.ForceField),
		Solvent:              string(run.Solvent.WaterModel),
		MaxIterations:        run.MaxIterations,
		PH:                   run.PH,
		EnergyTolerance:      Float64(run.EnergyTolerance),
		ConvergenceTolerance: run.ConvergenceTolerance,
		Hardware:             string(run.Hardware),
		GPUPlatform:          run.GPUPlatform,
		ImageWidth:           render.Width,
		ImageHeight:          render.Height,
		ImageDPI:             render.DPI,
		LogFormat:            observability.LogFormatText,
	}
}

// Float64 returns a pointer to v, for optional fields where zero is meaningful.
func Float64(v float64) *float64 {
	return &v
}

// LoadConfig loads configuration from a JSON file, or YAML when the extension is .yaml or .yml.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	// Validate numeric ranges
	if c.MaxIterations < 0 {
		return fmt.Errorf("config error: 'max_iterations' must be non-negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	if c.CPUThreads < 0 {
		return fmt.Errorf("config error: 'cpu_threads' must be non-negative")
	}
	if c.PH < 0 || c.PH > 14 {
		return fmt.Errorf("config error: 'ph' must be between 0 and 14")
	}
	if (c.EnergyTolerance != nil && *c.EnergyTolerance < 0) || c.ConvergenceTolerance < 0 {
		return fmt.Errorf("config error: tolerances must be non-negative")
	}
	if c.ImageWidth < 0 || c.ImageHeight < 0 || c.ImageDPI < 0 {
		return fmt.Errorf("config error: image dimensions must be non-negative")
	}
	for _, d := range c.GPUDevices {
		if d < 0 {
			return fmt.Errorf("config error: 'gpu_devices' must be non-negative, got %d", d)
		}
	}

	// Validate enumerations
	if c.ForceField != "" {
		if _, ok := types.LookupForceField(c.ForceField); !ok {
			return fmt.Errorf("config error: unknown force field %q", c.ForceField)
		}
	}
	if c.Solvent != "" {
		if _, err := types.ParseSolvent(c.Solvent); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	if c.Hardware != "" {
		if hw := strings.ToUpper(c.Hardware); hw != string(types.CPU) && hw != string(types.GPU) {
			return fmt.Errorf("config error: 'hardware' must be CPU or GPU, got %q", c.Hardware)
		}
	}
	if c.GPUPlatform != "" && c.GPUPlatform != "CUDA" && c.GPUPlatform != "OpenCL" {
		return fmt.Errorf("config error: 'gpu_platform' must be CUDA or OpenCL, got %q", c.GPUPlatform)
	}
	if c.LogFormat != "" && c.LogFormat != observability.LogFormatText && c.LogFormat != observability.LogFormatJSON {
		return fmt.Errorf("config error: 'log_format' must be text or json, got %q", c.LogFormat)
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("config error: 'database_url' must be a postgres:// URL")
	}

	// Validate paths exist (if specified)
	if c.InputDir != "" {
		info, err := os.Stat(c.InputDir)
		if os.IsNotExist(err) {
			return fmt.Errorf("config error: input directory not found: %s", c.InputDir)
		}
		if err == nil && !info.IsDir() {
			return fmt.Errorf("config error: input path is not a directory: %s", c.InputDir)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.InputDir == "" {
		result.InputDir = defaults.InputDir
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.ForceField == "" {
		result.ForceField = defaults.ForceField
	}
	if result.Solvent == "" {
		result.Solvent = defaults.Solvent
	}
	if result.Hardware == "" {
		result.Hardware = defaults.Hardware
	}
	if result.GPUPlatform == "" {
		result.GPUPlatform = defaults.GPUPlatform
	}
	if result.PDBFixerPath == "" {
		result.PDBFixerPath = defaults.PDBFixerPath
	}
	if result.PythonPath == "" {
		result.PythonPath = defaults.PythonPath
	}
	if result.PyMOLPath == "" {
		result.PyMOLPath = defaults.PyMOLPath
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.LogFormat == "" {
		result.LogFormat = defaults.LogFormat
	}

	// Int fields: use default if zero
	if result.MaxIterations == 0 {
		result.MaxIterations = defaults.MaxIterations
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.CPUThreads == 0 {
		result.CPUThreads = defaults.CPUThreads
	}
	if result.ImageWidth == 0 {
		result.ImageWidth = defaults.ImageWidth
	}
	if result.ImageHeight == 0 {
		result.ImageHeight = defaults.ImageHeight
	}
	if result.ImageDPI == 0 {
		result.ImageDPI = defaults.ImageDPI
	}
	if len(result.GPUDevices) == 0 {
		result.GPUDevices = defaults.GPUDevices
	}

	// Float fields
	if result.PH == 0 {
		result.PH = defaults.PH
	}
	if result.EnergyTolerance == nil {
		result.EnergyTolerance = defaults.EnergyTolerance
	}
	if result.ConvergenceTolerance == 0 {
		result.ConvergenceTolerance = defaults.ConvergenceTolerance
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// RunConfiguration converts the merged configuration into the immutable per-batch
// parameter set and validates it.
func (c *Config) RunConfiguration() (types.RunConfiguration, error) {
	run := types.DefaultRunConfiguration()

	if c.ForceField != "" {
		spec, ok := types.LookupForceField(c.ForceField)
		if !ok {
			return types.RunConfiguration{}, fmt.Errorf("config error: unknown force field %q", c.ForceField)
		}
		run.ForceField = spec.Name
	}
	if c.Solvent != "" {
		solvent, err := types.ParseSolvent(c.Solvent)
		if err != nil {
			return types.RunConfiguration{}, fmt.Errorf("config error: %w", err)
		}
		run.Solvent = solvent
	}
	if c.MaxIterations != 0 {
		run.MaxIterations = c.MaxIterations
	}
	if c.Hardware != "" {
		run.Hardware = types.Hardware(strings.ToUpper(c.Hardware))
	}
	if c.GPUPlatform != "" {
		run.GPUPlatform = c.GPUPlatform
	}
	run.GPUDevices = append([]int(nil), c.GPUDevices...)
	run.GPUFallback = c.GPUFallback
	run.CPUThreads = c.CPUThreads
	if c.PH != 0 {
		run.PH = c.PH
	}
	if c.EnergyTolerance != nil {
		run.EnergyTolerance = *c.EnergyTolerance
	}
	if c.ConvergenceTolerance != 0 {
		run.ConvergenceTolerance = c.ConvergenceTolerance
	}

	if c.AutoSwitchForceField {
		run, _ = run.WithCompatibleForceField()
	}
	if err := run.Validate(); err != nil {
		return types.RunConfiguration{}, fmt.Errorf("config error: %w", err)
	}
	return run, nil
}

// RenderSettings returns the image settings, falling back to defaults for unset fields.
func (c *Config) RenderSettings() rendering.Settings {
	s := rendering.DefaultSettings()
	if c.ImageWidth > 0 {
		s.Width = c.ImageWidth
	}
	if c.ImageHeight > 0 {
		s.Height = c.ImageHeight
	}
	if c.ImageDPI > 0 {
		s.DPI = c.ImageDPI
	}
	return s
}
