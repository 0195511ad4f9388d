package rendering

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// DefaultTimeout bounds a single render.
const DefaultTimeout = 5 * time.Minute

// Colour ramp bounds in Angstrom.
const (
	RampMinimum = 0.00
	RampMaximum = 0.30
)

//go:embed templates/compare.pml.tmpl
var templateFS embed.FS

// Paths go through PyMOL's Python API as string literals so that spaces and
// commas are not split by the command parser.
var scriptFuncs = template.FuncMap{"py": pyString}

// Settings controls image output.
type Settings struct {
	Width  int `json:"image_width" validate:"gt=0"`
	Height int `json:"image_height" validate:"gt=0"`
	DPI    int `json:"image_dpi" validate:"gt=0"`
}

// DefaultSettings returns 1080x1080 at 300 dpi.
func DefaultSettings() Settings {
	return Settings{Width: 1080, Height: 1080, DPI: 300}
}

// Request is one structure pair to render. Mobile must already be superposed onto Reference.
type Request struct {
	Identifier string
	Reference  *types.StructureRecord
	Mobile     *types.StructureRecord
	PerResidue map[types.ResidueKey]float64
	OutputDir  string
}

// Artifacts are the files a render produced.
type Artifacts struct {
	Image   string `json:"image"`
	Session string `json:"session"`
}

// Renderer draws a structure pair coloured by a per-residue scalar.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Artifacts, error)
}

// scriptData is the data passed to the viewer script template.
type scriptData struct {
	Identifier    string
	ReferencePath string
	MobilePath    string
	SessionPath   string
	ImagePath     string
	Gradient      bool
	Minimum       float64
	Maximum       float64
	Width         int
	Height        int
	DPI           int
}

// PyMOL renders with a headless PyMOL process.
type PyMOL struct {
	Executable string
	Settings   Settings
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewPyMOL returns a PyMOL renderer using executable, or "pymol" from PATH when empty.
func NewPyMOL(executable string, settings Settings, logger *slog.Logger) *PyMOL {
	if executable == "" {
		executable = "pymol"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PyMOL{Executable: executable, Settings: settings, Timeout: DefaultTimeout, Logger: logger}
}

// Render writes both structures with per-residue values as B-factors, generates a
// viewer script, and runs PyMOL in batch mode. Outputs are <id>.png and <id>.pse in OutputDir.
func (p *PyMOL) Render(ctx context.Context, req Request) (*Artifacts, error) {
	if _, err := exec.LookPath(p.Executable); err != nil {
		return nil, &RenderError{Message: fmt.Sprintf("%s not found in PATH", p.Executable), Cause: err}
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, &RenderError{Message: fmt.Sprintf("failed to create output directory: %s", req.OutputDir), Cause: err}
	}

	workDir, err := os.MkdirTemp("", "pymol-*")
	if err != nil {
		return nil, &RenderError{Message: "failed to create working directory", Cause: err}
	}
	defer os.RemoveAll(workDir)

	data := scriptData{
		Identifier:    req.Identifier,
		ReferencePath: filepath.Join(workDir, "raw.pdb"),
		MobilePath:    filepath.Join(workDir, "minimized.pdb"),
		SessionPath:   filepath.Join(req.OutputDir, req.Identifier+".pse"),
		ImagePath:     filepath.Join(req.OutputDir, req.Identifier+".png"),
		Gradient:      UseGradient(req.PerResidue),
		Minimum:       RampMinimum,
		Maximum:       RampMaximum,
		Width:         p.Settings.Width,
		Height:        p.Settings.Height,
		DPI:           p.Settings.DPI,
	}

	if err := pdb.WriteFile(data.ReferencePath, req.Reference, nil); err != nil {
		return nil, &RenderError{Message: "failed to write reference structure", Cause: err}
	}
	if err := pdb.WriteFile(data.MobilePath, req.Mobile, req.PerResidue); err != nil {
		return nil, &RenderError{Message: "failed to write minimized structure", Cause: err}
	}

	script, err := renderScript(data)
	if err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(workDir, "compare.pml")
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return nil, &RenderError{Message: "failed to write viewer script", Cause: err}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// -c: no GUI, -q: quiet
	cmd := exec.CommandContext(runCtx, p.Executable, "-cq", scriptPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	output := stdout.String() + stderr.String()

	if _, err := os.Stat(data.ImagePath); err != nil {
		return nil, &RenderError{Message: "image was not generated", Output: output, Cause: runErr}
	}
	if _, err := os.Stat(data.SessionPath); err != nil {
		return nil, &RenderError{Message: "session was not generated", Output: output, Cause: runErr}
	}
	if runErr != nil {
		p.Logger.Warn("pymol exited with an error after writing the image", "identifier", req.Identifier, "error", runErr)
	}
	return &Artifacts{Image: data.ImagePath, Session: data.SessionPath}, nil
}

// renderScript executes the viewer script template.
func renderScript(data scriptData) (string, error) {
	tmpl, err := template.New("compare.pml.tmpl").Funcs(scriptFuncs).ParseFS(templateFS, "templates/compare.pml.tmpl")
	if err != nil {
		return "", &TemplateError{Message: "failed to parse viewer script template", Cause: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &TemplateError{Message: "failed to execute viewer script template", Cause: err}
	}
	return buf.String(), nil
}

// pyString renders s as a double-quoted Python string literal. JSON string escapes
// are valid in Python.
func pyString(s string) (string, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UseGradient reports whether per-residue values vary enough to colour by them.
// Uniform or all-zero values are drawn in a single colour.
func UseGradient(values map[types.ResidueKey]float64) bool {
	if len(values) <= 1 {
		return false
	}
	first := true
	var lo, hi float64
	for _, v := range values {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi > 0 && hi-lo > 0.001
}
