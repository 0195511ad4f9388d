package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/protein-minimizer/internal/config"
	"github.com/jonathan/protein-minimizer/internal/db"
	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/report"
	"github.com/jonathan/protein-minimizer/internal/schemas"
	"github.com/jonathan/protein-minimizer/internal/stub"
	"github.com/jonathan/protein-minimizer/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeInputs(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	for i, id := range ids {
		require.NoError(t, pdb.WriteFile(filepath.Join(dir, id+".pdb"), stub.Structure(id, 3+i), nil))
	}
	return dir
}

func testConfig(inputDir, outputDir string) config.Config {
	cfg := config.Defaults()
	cfg.InputDir = inputDir
	cfg.OutputDir = outputDir
	cfg.Workers = 2
	return cfg
}

func TestExecuteBatch(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	cfg := testConfig(writeInputs(t, "alpha", "beta", "gamma"), outDir)
	cfg.Render = true

	renderer := &stub.Renderer{Failures: map[string]string{"gamma": "pymol crashed"}}
	caps := capabilities{
		repairer:  &stub.Repairer{},
		mechanics: &stub.Mechanics{Failures: map[string]string{"beta": "NaN energy"}},
		renderer:  renderer,
	}

	var out bytes.Buffer
	rep, err := executeBatch(context.Background(), cfg, caps, &out, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.SuccessCount())
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "beta", rep.Failures[0].Identifier)
	assert.Equal(t, types.FailureMinimization, rep.Failures[0].Kind)
	require.Len(t, rep.RenderWarnings, 1)
	assert.Equal(t, "gamma", rep.RenderWarnings[0].Identifier)

	for _, name := range []string{report.EnergiesFile, report.GlobalRMSDFile, report.PerResidueFile, report.CombinedRMSDFile, report.MetadataFile, report.ParametersFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
	assert.FileExists(t, filepath.Join(outDir, report.MinimizedDir, "alpha"+report.MinimizedFileSuffix))
	assert.FileExists(t, filepath.Join(outDir, report.VisualizationsDir, "alpha.png"))
	assert.NoError(t, schemas.ValidateFile(schemas.RunMetadata, filepath.Join(outDir, report.MetadataFile)))

	output := out.String()
	assert.Contains(t, output, "Step 1/4: Discovering structures")
	assert.Contains(t, output, "Found 3 structures")
	assert.Contains(t, output, "2 succeeded, 1 failed, 0 cancelled")
	assert.Contains(t, output, "Step 4/4: Summary")
	assert.Contains(t, output, "beta")
	assert.Contains(t, output, "FAILED (minimization at Minimized)")
}

func TestExecuteBatch_VerbosePrintsBoxes(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha"), filepath.Join(t.TempDir(), "out"))
	cfg.Verbose = true

	var out bytes.Buffer
	_, err := executeBatch(context.Background(), cfg, capabilities{repairer: &stub.Repairer{}, mechanics: &stub.Mechanics{}}, &out, discardLogger())
	require.NoError(t, err)

	output := out.String()
	assert.Contains(t, output, "RUN CONFIGURATION")
	assert.Contains(t, output, "[1/1] alpha: Repairing structure")
	assert.Contains(t, output, "ENERGY MINIMIZATION")
	assert.Contains(t, output, "ALL STRUCTURES PROCESSED")
}

func TestExecuteBatch_EmptyInputDir(t *testing.T) {
	cfg := testConfig(t.TempDir(), t.TempDir())

	_, err := executeBatch(context.Background(), cfg, capabilities{repairer: &stub.Repairer{}, mechanics: &stub.Mechanics{}}, io.Discard, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PDB files found")
}

func TestExecuteBatch_IncompatibleSolvent(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha"), t.TempDir())
	cfg.ForceField = "CHARMM36"
	cfg.Solvent = "gbn2"

	mech := &stub.Mechanics{}
	_, err := executeBatch(context.Background(), cfg, capabilities{repairer: &stub.Repairer{}, mechanics: mech}, io.Discard, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support implicit solvent")
	assert.Empty(t, mech.Requests)
}

func TestExecuteBatch_AutoSwitchForceField(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha"), t.TempDir())
	cfg.ForceField = "CHARMM36"
	cfg.Solvent = "obc2"
	cfg.AutoSwitchForceField = true

	mech := &stub.Mechanics{}
	var out bytes.Buffer
	rep, err := executeBatch(context.Background(), cfg, capabilities{repairer: &stub.Repairer{}, mechanics: mech}, &out, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.SuccessCount())
	assert.Contains(t, out.String(), "Warning: CHARMM36 does not support Implicit OBC2; using AMBER14 instead")
	require.Len(t, mech.Requests, 1)
	assert.Equal(t, types.AMBER14, mech.Requests[0].Config.ForceField)
}

func TestExecuteBatch_Cancelled(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha", "beta"), t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := executeBatch(ctx, cfg, capabilities{repairer: &stub.Repairer{}, mechanics: &stub.Mechanics{}}, io.Discard, discardLogger())
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, 0, rep.SuccessCount())
	assert.FileExists(t, filepath.Join(cfg.OutputDir, report.MetadataFile))
}

// fakeRecorder records run history calls in memory.
type fakeRecorder struct {
	created   []uuid.UUID
	saved     int
	completed []string
	failed    []uuid.UUID
	closed    bool
	saveErr   error
}

func (f *fakeRecorder) CreateRun(_ context.Context, runID uuid.UUID, _ types.RunConfiguration) error {
	f.created = append(f.created, runID)
	return nil
}

func (f *fakeRecorder) SaveReport(_ context.Context, _ uuid.UUID, _ *types.BatchReport) error {
	f.saved++
	return f.saveErr
}

func (f *fakeRecorder) CompleteRun(_ context.Context, _ uuid.UUID, rep *types.BatchReport) error {
	f.completed = append(f.completed, db.RunStatus(rep))
	return nil
}

func (f *fakeRecorder) FailRun(_ context.Context, runID uuid.UUID) error {
	f.failed = append(f.failed, runID)
	return nil
}

func (f *fakeRecorder) Close() { f.closed = true }

func recordingCaps(rec *fakeRecorder) capabilities {
	return capabilities{
		repairer:  &stub.Repairer{},
		mechanics: &stub.Mechanics{},
		openRecorder: func(context.Context, string) (runRecorder, error) {
			return rec, nil
		},
	}
}

func TestExecuteBatch_RecordsRun(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha"), t.TempDir())
	cfg.DatabaseURL = "postgres://localhost/test"

	rec := &fakeRecorder{}
	var out bytes.Buffer
	_, err := executeBatch(context.Background(), cfg, recordingCaps(rec), &out, discardLogger())
	require.NoError(t, err)

	require.Len(t, rec.created, 1)
	assert.Equal(t, 1, rec.saved)
	assert.Equal(t, []string{db.RunStatusCompleted}, rec.completed)
	assert.Empty(t, rec.failed)
	assert.True(t, rec.closed)
	assert.Contains(t, out.String(), "Step 5/5: Summary")
}

func TestExecuteBatch_ArtifactErrorMarksRunFailed(t *testing.T) {
	// An output path that is a regular file cannot hold the report tables.
	outFile := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(outFile, []byte("x"), 0644))
	cfg := testConfig(writeInputs(t, "alpha"), outFile)
	cfg.DatabaseURL = "postgres://localhost/test"

	rec := &fakeRecorder{}
	_, err := executeBatch(context.Background(), cfg, recordingCaps(rec), io.Discard, discardLogger())
	require.Error(t, err)

	require.Len(t, rec.created, 1)
	assert.Empty(t, rec.completed)
	assert.Equal(t, rec.created, rec.failed)
	assert.True(t, rec.closed)
}

func TestExecuteBatch_SaveErrorMarksRunFailed(t *testing.T) {
	cfg := testConfig(writeInputs(t, "alpha"), t.TempDir())
	cfg.DatabaseURL = "postgres://localhost/test"

	rec := &fakeRecorder{saveErr: errors.New("connection reset")}
	_, err := executeBatch(context.Background(), cfg, recordingCaps(rec), io.Discard, discardLogger())
	require.ErrorContains(t, err, "connection reset")
	assert.Empty(t, rec.completed)
	assert.Equal(t, rec.created, rec.failed)
}

func TestProductionCapabilities(t *testing.T) {
	cfg := config.Defaults()
	cfg.KeepWorkDir = true
	cfg.PythonPath = "/opt/conda/bin/python"

	caps := productionCapabilities(cfg, discardLogger())
	openmm, ok := caps.mechanics.(*mechanics.OpenMM)
	require.True(t, ok)
	assert.True(t, openmm.KeepWorkDir)
	assert.Equal(t, "/opt/conda/bin/python", openmm.Python)
	assert.Nil(t, caps.renderer)
	assert.NotNil(t, caps.openRecorder)
}

func TestResolveRunConfig_Flags(t *testing.T) {
	inputDir := t.TempDir()
	tests := []struct {
		name          string
		args          []string
		wantTolerance float64
		wantFormat    string
		wantKeep      bool
	}{
		{"defaults", []string{"--input", inputDir}, types.DefaultEnergyTolerance, "text", false},
		{"zero tolerance", []string{"--input", inputDir, "--energy-tolerance", "0"}, 0, "text", false},
		{"json logs and kept work dir", []string{"--input", inputDir, "--log-format", "json", "--keep-work-dir"}, types.DefaultEnergyTolerance, "json", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRunFlagsCommand(t)
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, err := resolveRunConfig(cmd)
			require.NoError(t, err)
			require.NotNil(t, cfg.EnergyTolerance)
			assert.Equal(t, tt.wantTolerance, *cfg.EnergyTolerance)
			assert.Equal(t, tt.wantFormat, cfg.LogFormat)
			assert.Equal(t, tt.wantKeep, cfg.KeepWorkDir)

			run, err := cfg.RunConfiguration()
			require.NoError(t, err)
			assert.Equal(t, tt.wantTolerance, run.EnergyTolerance)
		})
	}
}

func TestResolveRunConfig_BadLogFormat(t *testing.T) {
	cmd := newRunFlagsCommand(t)
	require.NoError(t, cmd.ParseFlags([]string{"--input", t.TempDir(), "--log-format", "xml"}))

	_, err := resolveRunConfig(cmd)
	require.ErrorContains(t, err, "log_format")
}

// newRunFlagsCommand resets changed run flags so each case parses from scratch.
func newRunFlagsCommand(t *testing.T) *cobra.Command {
	t.Helper()
	reset := func() {
		runCommand.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			}
		})
	}
	reset()
	t.Cleanup(reset)
	return runCommand
}

func TestRunCommand_MissingInput(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run")
	cmd.Env = append(os.Environ(), "DATABASE_URL=")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "--input must be provided")
}
