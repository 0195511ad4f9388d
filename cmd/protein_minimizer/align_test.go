package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/stub"
	"github.com/jonathan/protein-minimizer/internal/types"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestAlignCommand_RigidShiftIsZero(t *testing.T) {
	dir := t.TempDir()
	reference := stub.Structure("ref", 3)

	coords := reference.Coords()
	for i := range coords {
		coords[i][0] += 5
		coords[i][2] -= 2
	}
	moved, err := reference.WithCoords(types.StageMinimized, coords)
	require.NoError(t, err)
	moved.Identifier = "other_name"

	refPath := filepath.Join(dir, "ref.pdb")
	mobPath := filepath.Join(dir, "mob.pdb")
	outPath := filepath.Join(dir, "aligned", "overlay.pdb")
	require.NoError(t, pdb.WriteFile(refPath, reference, nil))
	require.NoError(t, pdb.WriteFile(mobPath, moved, nil))

	output, err := executeRoot(t, "align", refPath, mobPath, "--output", outPath)
	require.NoError(t, err)

	assert.Contains(t, output, "Global RMSD: 0.0000 Å over 12 atoms")
	assert.Contains(t, output, "ALA")
	assert.Contains(t, output, "Wrote superposed structure")

	overlay, err := pdb.ReadFile(outPath, types.StageMinimized)
	require.NoError(t, err)
	require.Len(t, overlay.Atoms, len(reference.Atoms))
	assert.InDelta(t, reference.Atoms[0].Coord[0], overlay.Atoms[0].Coord[0], 2e-3)
}

func TestAlignCommand_TopologyMismatch(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.pdb")
	mobPath := filepath.Join(dir, "mob.pdb")
	require.NoError(t, pdb.WriteFile(refPath, stub.Structure("ref", 3), nil))
	require.NoError(t, pdb.WriteFile(mobPath, stub.Structure("mob", 4), nil))

	_, err := executeRoot(t, "align", refPath, mobPath, "--output", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topology")
}

func TestAlignCommand_MissingFile(t *testing.T) {
	_, err := executeRoot(t, "align", "/nonexistent/a.pdb", "/nonexistent/b.pdb", "--output", "")
	assert.Error(t, err)
}

func TestForceFieldsCommand(t *testing.T) {
	output, err := executeRoot(t, "forcefields")
	require.NoError(t, err)

	assert.Contains(t, output, "CHARMM36   no")
	assert.Contains(t, output, "AMBER14    yes")
	assert.Contains(t, output, "amber14-all.xml")
	assert.Contains(t, output, "obc2   Implicit OBC2")
}

func TestRunsCommand_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := executeRoot(t, "runs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL environment variable or --db-url flag is required")
}

func TestRunsShow_InvalidID(t *testing.T) {
	_, err := executeRoot(t, "runs", "show", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id format")
}
