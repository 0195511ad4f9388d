package repair

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// DefaultTimeout is the maximum time a single repair may take.
const DefaultTimeout = 10 * time.Minute

// Repairer fills in missing residues, atoms and hydrogens for one input file.
type Repairer interface {
	Repair(ctx context.Context, input pdb.Input, ph float64) (*types.StructureRecord, error)
}

// PDBFixer repairs structures with the pdbfixer command line tool.
type PDBFixer struct {
	Executable string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewPDBFixer returns a PDBFixer using executable, or "pdbfixer" from PATH when empty.
func NewPDBFixer(executable string, logger *slog.Logger) *PDBFixer {
	if executable == "" {
		executable = "pdbfixer"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDBFixer{Executable: executable, Timeout: DefaultTimeout, Logger: logger}
}

// Repair runs pdbfixer on the input, reads the completed structure back, and removes
// crystal waters and ions so the record holds the solute only.
func (f *PDBFixer) Repair(ctx context.Context, input pdb.Input, ph float64) (*types.StructureRecord, error) {
	if _, err := exec.LookPath(f.Executable); err != nil {
		return nil, &RepairError{
			Identifier: input.Identifier,
			Message:    fmt.Sprintf("%s not found in PATH. Please install pdbfixer (conda install -c conda-forge pdbfixer)", f.Executable),
			Cause:      err,
		}
	}

	workDir, err := os.MkdirTemp("", "pdbfixer-*")
	if err != nil {
		return nil, &RepairError{Identifier: input.Identifier, Message: "failed to create working directory", Cause: err}
	}
	defer os.RemoveAll(workDir)

	inPath, err := plainCopy(input, workDir)
	if err != nil {
		return nil, &RepairError{Identifier: input.Identifier, Message: "failed to prepare input", Cause: err}
	}
	outPath := filepath.Join(workDir, input.Identifier+"_fixed.pdb")

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.Executable, inPath,
		"--output="+outPath,
		"--add-atoms=all",
		"--add-residues",
		"--keep-heterogens=all",
		fmt.Sprintf("--ph=%.2f", ph),
	)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	output := stdout.String() + stderr.String()
	if runErr != nil {
		return nil, &RepairError{
			Identifier: input.Identifier,
			Message:    "pdbfixer failed",
			Output:     output,
			Cause:      runErr,
		}
	}
	f.Logger.Debug("pdbfixer finished", "identifier", input.Identifier, "duration", time.Since(start))

	rec, err := pdb.ReadFile(outPath, types.StageRepaired)
	if err != nil {
		return nil, &RepairError{Identifier: input.Identifier, Message: "failed to read repaired structure", Output: output, Cause: err}
	}
	rec.Identifier = input.Identifier

	solute, removed := pdb.StripSolvent(rec)
	if len(solute.Atoms) == 0 {
		return nil, &RepairError{Identifier: input.Identifier, Message: "repaired structure contains no solute atoms"}
	}
	if removed > 0 {
		f.Logger.Debug("removed solvent from repaired structure", "identifier", input.Identifier, "atoms", removed)
	}
	return solute, nil
}

// plainCopy returns a path to an uncompressed copy of the input inside dir.
// Uncompressed inputs are used in place.
func plainCopy(input pdb.Input, dir string) (string, error) {
	if !strings.EqualFold(filepath.Ext(input.Path), ".gz") {
		return input.Path, nil
	}
	src, err := os.Open(input.Path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	dstPath := filepath.Join(dir, input.Identifier+".pdb")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, gz); err != nil {
		_ = dst.Close()
		return "", err
	}
	return dstPath, dst.Close()
}
