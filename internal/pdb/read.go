// Package pdb reads and writes the fixed-column PDB coordinate format.
package pdb

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Read parses ATOM and HETATM records of the first model into a StructureRecord.
// Alternate locations other than the first are dropped.
func Read(r io.Reader, identifier string, stage types.Stage) (*types.StructureRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)

	atoms := make([]types.Atom, 0, 1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) < 6 {
			continue
		}
		// The record name is always in the first six columns.
		switch strings.TrimSpace(line[0:6]) {
		case "ATOM", "HETATM":
			atom, keep, err := parseAtom(line)
			if err != nil {
				err.Line = lineNo
				return nil, err
			}
			if keep {
				atoms = append(atoms, atom)
			}
		case "ENDMDL":
			return finish(identifier, stage, atoms)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", identifier, err)
	}
	return finish(identifier, stage, atoms)
}

func finish(identifier string, stage types.Stage, atoms []types.Atom) (*types.StructureRecord, error) {
	if len(atoms) == 0 {
		return nil, &ParseError{Message: fmt.Sprintf("no atom records found for %s", identifier)}
	}
	return types.NewStructureRecord(identifier, stage, atoms), nil
}

// parseAtom decodes one ATOM/HETATM line. Columns follow the PDB 3.3 format:
// serial 7-11, name 13-16, altLoc 17, resName 18-20, chain 22, resSeq 23-26,
// iCode 27, x/y/z 31-54, element 77-78.
func parseAtom(line string) (types.Atom, bool, *ParseError) {
	if len(line) < 54 {
		return types.Atom{}, false, &ParseError{Message: fmt.Sprintf("atom record too short (%d columns)", len(line))}
	}

	altLoc := line[16]
	if altLoc != ' ' && altLoc != 'A' && altLoc != '1' {
		return types.Atom{}, false, nil
	}

	atom := types.Atom{
		Name:          strings.TrimSpace(line[12:16]),
		ResidueName:   strings.TrimSpace(line[17:20]),
		Chain:         strings.TrimSpace(line[21:22]),
		InsertionCode: strings.TrimSpace(line[26:27]),
		Hetero:        strings.HasPrefix(line, "HETATM"),
	}

	// Serials are informational; keep 0 when unparsable.
	if serial, err := decodeIndex(line[6:11]); err == nil {
		atom.Serial = serial
	}

	seq, err := decodeIndex(line[22:26])
	if err != nil {
		return types.Atom{}, false, &ParseError{Message: "invalid residue sequence number", Cause: err}
	}
	atom.ResidueIndex = seq

	for i := 0; i < 3; i++ {
		start := 30 + 8*i
		v, err := strconv.ParseFloat(strings.TrimSpace(line[start:start+8]), 64)
		if err != nil {
			return types.Atom{}, false, &ParseError{Message: "invalid coordinate", Cause: err}
		}
		atom.Coord[i] = v
	}

	if len(line) >= 78 {
		atom.Element = strings.TrimSpace(line[76:78])
	}
	if atom.Element == "" {
		atom.Element = guessElement(atom.Name)
	}
	return atom, true, nil
}

// decodeIndex parses a fixed-width serial or residue number. Values that overflow the
// field are written by OpenMM as shifted upper-case hex (10000 becomes "A000" in a
// four-column field) and by other tools as hybrid-36. Upper-case hex digits are read
// the OpenMM way; the two encodings agree up to "A00F".
func decodeIndex(field string) (int, error) {
	s := strings.TrimSpace(field)
	n, err := strconv.Atoi(s)
	if err == nil || s == "" || s[0] == '-' {
		return n, err
	}
	width := len(field)
	decimalLimit := pow(10, width)
	if v, hexErr := strconv.ParseUint(s, 16, 64); hexErr == nil && isUpper(s) {
		// OpenMM wraps modulo 16^width once the shifted value passes "FFFF".
		n := int(v) - 10*pow(16, width-1) + decimalLimit
		if n < decimalLimit {
			n += pow(16, width)
		}
		return n, nil
	}
	if len(s) == width && (s[0] < '0' || s[0] > '9') {
		if v, h36Err := strconv.ParseUint(s, 36, 64); h36Err == nil {
			switch {
			case isUpper(s):
				return int(v) - 10*pow(36, width-1) + decimalLimit, nil
			case s == strings.ToLower(s):
				return int(v) + 16*pow(36, width-1) + decimalLimit, nil
			}
		}
	}
	return 0, err
}

// isUpper reports whether s has no lower-case letters.
func isUpper(s string) bool {
	return s == strings.ToUpper(s)
}

func pow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// guessElement takes the first letter of the atom name that is not a digit.
func guessElement(name string) string {
	for _, r := range name {
		if r < '0' || r > '9' {
			return string(r)
		}
	}
	return ""
}

// ReadFile reads a PDB file from disk. Files ending in ".gz" are decompressed.
// The identifier is derived from the file name.
func ReadFile(path string, stage types.Stage) (*types.StructureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}
	return Read(reader, Identifier(path), stage)
}

// Identifier derives a structure identifier from a file path: the base name
// without ".gz" and ".pdb" extensions.
func Identifier(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".pdb", ".ent"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
		}
	}
	return name
}
