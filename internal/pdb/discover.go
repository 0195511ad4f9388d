package pdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Input is one structure file found in an input directory.
type Input struct {
	Identifier string `json:"identifier"`
	Path       string `json:"path"`
}

// Discover lists *.pdb, *.PDB and *.pdb.gz files in dir sorted by file name.
// Two files mapping to the same identifier are an InputError.
func Discover(dir string) ([]Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &InputError{Message: fmt.Sprintf("failed to read input directory %s", dir), Cause: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		lower := strings.ToLower(entry.Name())
		if strings.HasSuffix(lower, ".pdb") || strings.HasSuffix(lower, ".pdb.gz") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	inputs := make([]Input, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, Input{Identifier: Identifier(name), Path: filepath.Join(dir, name)})
	}
	if err := CheckUnique(inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// CheckUnique returns an InputError when two inputs share an identifier.
func CheckUnique(inputs []Input) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		if prev, ok := seen[in.Identifier]; ok {
			return &InputError{Message: fmt.Sprintf("duplicate identifier %q from %s and %s", in.Identifier, prev, in.Path)}
		}
		seen[in.Identifier] = in.Path
	}
	return nil
}
