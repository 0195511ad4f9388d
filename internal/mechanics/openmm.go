package mechanics

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// DefaultTimeout bounds a single build-and-minimize call.
const DefaultTimeout = 2 * time.Hour

//go:embed templates/openmm_driver.py.tmpl
var templateFS embed.FS

var driverTemplate = template.Must(template.New("openmm_driver.py.tmpl").Funcs(template.FuncMap{
	"py":     pyLiteral,
	"pybool": pyBool,
}).ParseFS(templateFS, "templates/openmm_driver.py.tmpl"))

// driverData is the data passed to the driver script template.
type driverData struct {
	Identifier    string
	InputPath     string
	OutputPath    string
	ResultPath    string
	Settings      SystemSettings
	MaxIterations int
	Tolerance     float64
	UseGPU        bool
	GPUPlatform   string
	Device        int
	GPUFallback   bool
	CPUThreads    int
}

// driverResult is the JSON document the driver script writes.
type driverResult struct {
	InitialEnergy *float64 `json:"initial_energy"`
	FinalEnergy   *float64 `json:"final_energy"`
	Iterations    int      `json:"iterations"`
	Platform      *string  `json:"platform"`
	Error         *string  `json:"error"`
}

// OpenMM runs minimizations through an OpenMM driver script executed by Python.
type OpenMM struct {
	Python  string
	Timeout time.Duration
	// KeepWorkDir leaves the generated script and intermediate files on disk for debugging.
	KeepWorkDir bool
	Logger      *slog.Logger
}

// NewOpenMM returns an OpenMM backend using python, or "python3" when empty.
func NewOpenMM(python string, logger *slog.Logger) *OpenMM {
	if python == "" {
		python = "python3"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenMM{Python: python, Timeout: DefaultTimeout, Logger: logger}
}

// BuildAndMinimize writes the structure and a driver script to a scratch directory,
// runs the script, and reads back energies and solute coordinates.
func (o *OpenMM) BuildAndMinimize(ctx context.Context, req Request) (*Result, error) {
	settings, err := Settings(req.Config)
	if err != nil {
		return nil, &MechanicsError{Message: "invalid system settings", Cause: err}
	}
	if _, err := exec.LookPath(o.Python); err != nil {
		return nil, &MechanicsError{Message: fmt.Sprintf("%s not found in PATH", o.Python), Cause: err}
	}

	workDir, err := os.MkdirTemp("", "openmm-*")
	if err != nil {
		return nil, &MechanicsError{Message: "failed to create working directory", Cause: err}
	}
	if o.KeepWorkDir {
		o.Logger.Info("keeping mechanics working directory", "identifier", req.Structure.Identifier, "dir", workDir)
	} else {
		defer os.RemoveAll(workDir)
	}

	data := driverData{
		Identifier:    req.Structure.Identifier,
		InputPath:     filepath.Join(workDir, "input.pdb"),
		OutputPath:    filepath.Join(workDir, "minimized.pdb"),
		ResultPath:    filepath.Join(workDir, "result.json"),
		Settings:      settings,
		MaxIterations: req.Config.MaxIterations,
		Tolerance:     req.Config.ConvergenceTolerance,
		UseGPU:        req.Config.Hardware == types.GPU,
		GPUPlatform:   req.Config.GPUPlatform,
		Device:        req.Device,
		GPUFallback:   req.Config.GPUFallback,
		CPUThreads:    req.Config.CPUThreads,
	}
	if data.GPUPlatform == "" {
		data.GPUPlatform = "CUDA"
	}

	if err := pdb.WriteFile(data.InputPath, req.Structure, nil); err != nil {
		return nil, &MechanicsError{Message: "failed to write input structure", Cause: err}
	}
	scriptPath := filepath.Join(workDir, "driver.py")
	if err := renderDriver(scriptPath, data); err != nil {
		return nil, &MechanicsError{Message: "failed to render driver script", Cause: err}
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, o.Python, scriptPath)
	cmd.Dir = workDir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	output := stdout.String() + stderr.String()
	o.Logger.Debug("mechanics driver finished", "identifier", req.Structure.Identifier,
		"duration", time.Since(start), "error", runErr)

	res, readErr := readDriverResult(data.ResultPath)
	if runErr != nil || readErr != nil || res.Error != nil || res.FinalEnergy == nil {
		msg := "minimization failed"
		if res != nil && res.Error != nil {
			msg = *res.Error
		}
		cause := runErr
		if cause == nil {
			cause = readErr
		}
		return nil, &MechanicsError{Message: msg, Output: output, Trace: res.partialTrace(), Cause: cause}
	}

	minimized, err := pdb.ReadFile(data.OutputPath, types.StageMinimized)
	if err != nil {
		return nil, &MechanicsError{Message: "failed to read minimized structure", Output: output, Trace: res.partialTrace(), Cause: err}
	}
	solute, _ := pdb.StripSolvent(minimized)
	coords, err := soluteCoords(req.Structure, solute)
	if err != nil {
		return nil, &MechanicsError{Message: "minimized structure does not match input", Trace: res.partialTrace(), Cause: err}
	}

	result := &Result{
		Coords:        coords,
		InitialEnergy: *res.InitialEnergy,
		FinalEnergy:   *res.FinalEnergy,
		Iterations:    res.Iterations,
		Converged:     res.Iterations < req.Config.MaxIterations,
	}
	if res.Platform != nil {
		result.Platform = *res.Platform
	}
	return result, nil
}

// renderDriver writes the driver script for data to path.
func renderDriver(path string, data driverData) error {
	var buf bytes.Buffer
	if err := driverTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readDriverResult(path string) (*driverResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res driverResult
	if err := json.Unmarshal(content, &res); err != nil {
		return nil, fmt.Errorf("invalid driver result: %w", err)
	}
	if res.InitialEnergy == nil && res.Error == nil {
		return &res, errors.New("driver result has no energies")
	}
	return &res, nil
}

// partialTrace returns the energies evaluated before a failure, or nil.
func (r *driverResult) partialTrace() *types.EnergyTrace {
	if r == nil || r.InitialEnergy == nil {
		return nil
	}
	trace := &types.EnergyTrace{InitialEnergy: *r.InitialEnergy, Iterations: r.Iterations}
	if r.FinalEnergy != nil {
		trace.FinalEnergy = *r.FinalEnergy
		trace.HasFinal = true
	}
	if r.Platform != nil {
		trace.Platform = *r.Platform
	}
	return trace
}

// soluteCoords checks that the minimized solute lists the same atoms as the input,
// in the same order, and returns its coordinates.
func soluteCoords(input, solute *types.StructureRecord) ([]types.Coord, error) {
	if len(input.Atoms) != len(solute.Atoms) {
		return nil, fmt.Errorf("expected %d solute atoms, got %d", len(input.Atoms), len(solute.Atoms))
	}
	coords := make([]types.Coord, len(solute.Atoms))
	for i, atom := range solute.Atoms {
		want := input.Atoms[i]
		// Atom names may be normalized by the engine; elements and residue numbering may not.
		if !strings.EqualFold(atom.Element, want.Element) || atom.ResidueIndex != want.ResidueIndex {
			return nil, fmt.Errorf("atom %d is %s %s%d, expected %s %s%d", i,
				atom.Element, atom.ResidueName, atom.ResidueIndex, want.Element, want.ResidueName, want.ResidueIndex)
		}
		for k := 0; k < 3; k++ {
			if math.IsNaN(atom.Coord[k]) || math.IsInf(atom.Coord[k], 0) {
				return nil, fmt.Errorf("atom %d has non-finite coordinates", i)
			}
		}
		coords[i] = atom.Coord
	}
	return coords, nil
}

// pyLiteral renders a value as a Python literal. JSON strings, numbers and lists are
// valid Python; booleans and null are handled separately.
func pyLiteral(v any) (string, error) {
	switch val := v.(type) {
	case bool:
		return pyBool(val), nil
	case nil:
		return "None", nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(out) == "null" {
		return "None", nil
	}
	return string(out), nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
