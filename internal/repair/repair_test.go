package repair

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/types"
)

const rawPDB = `ATOM      1  N   ALA A   1      11.104   6.134  -6.504  1.00  0.00           N
ATOM      2  CA  ALA A   1      11.639   6.071  -5.147  1.00  0.00           C
HETATM    3  O   HOH A 101       4.000   5.000   6.000  1.00  0.00           O
END
`

// fakeFixer writes a shell script that copies its input to the --output path,
// recording the arguments it received.
func fakeFixer(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "pdbfixer")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

const copyBody = `in="$1"
out=""
for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
  esac
done
echo "$@" > "$(dirname "$0")/args"
cp "$in" "$out"`

func writeInput(t *testing.T, name string, content []byte) pdb.Input {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return pdb.Input{Identifier: pdb.Identifier(name), Path: path}
}

func TestPDBFixer_Repair(t *testing.T) {
	exe := fakeFixer(t, copyBody)
	fixer := NewPDBFixer(exe, nil)

	rec, err := fixer.Repair(context.Background(), writeInput(t, "1abc.pdb", []byte(rawPDB)), 7.4)
	require.NoError(t, err)

	assert.Equal(t, "1abc", rec.Identifier)
	assert.Equal(t, types.StageRepaired, rec.Stage)
	assert.Len(t, rec.Atoms, 2, "crystal water removed")

	args, err := os.ReadFile(filepath.Join(filepath.Dir(exe), "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--ph=7.40")
	assert.Contains(t, string(args), "--add-atoms=all")
	assert.Contains(t, string(args), "--add-residues")
}

func TestPDBFixer_Repair_GzipInput(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(rawPDB))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	fixer := NewPDBFixer(fakeFixer(t, copyBody), nil)
	rec, err := fixer.Repair(context.Background(), writeInput(t, "2xyz.pdb.gz", buf.Bytes()), 7.0)
	require.NoError(t, err)
	assert.Equal(t, "2xyz", rec.Identifier)
	assert.Len(t, rec.Atoms, 2)
}

func TestPDBFixer_Repair_ToolFails(t *testing.T) {
	fixer := NewPDBFixer(fakeFixer(t, `echo "unknown residue XYZ" >&2; exit 1`), nil)

	_, err := fixer.Repair(context.Background(), writeInput(t, "bad.pdb", []byte(rawPDB)), 7.4)
	var repairErr *RepairError
	require.True(t, errors.As(err, &repairErr))
	assert.Equal(t, "bad", repairErr.Identifier)
	assert.Contains(t, repairErr.Output, "unknown residue XYZ")
}

func TestPDBFixer_Repair_MissingExecutable(t *testing.T) {
	fixer := NewPDBFixer(filepath.Join(t.TempDir(), "does-not-exist"), nil)

	_, err := fixer.Repair(context.Background(), pdb.Input{Identifier: "x", Path: "x.pdb"}, 7.4)
	var repairErr *RepairError
	require.True(t, errors.As(err, &repairErr))
	assert.Contains(t, err.Error(), "not found")
}

func TestPDBFixer_Repair_OnlySolvent(t *testing.T) {
	water := "HETATM    1  O   HOH A 101       4.000   5.000   6.000  1.00  0.00           O\nEND\n"
	fixer := NewPDBFixer(fakeFixer(t, copyBody), nil)

	_, err := fixer.Repair(context.Background(), writeInput(t, "water.pdb", []byte(water)), 7.4)
	var repairErr *RepairError
	require.True(t, errors.As(err, &repairErr))
	assert.Contains(t, err.Error(), "no solute atoms")
}
