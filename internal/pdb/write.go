package pdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Write emits the record as PDB ATOM/HETATM lines with a TER after each chain.
// When bfactors is non-nil, each atom's temperature factor is set to the value
// for its residue; this is how per-residue RMSD reaches visualization tools.
func Write(w io.Writer, rec *types.StructureRecord, bfactors map[types.ResidueKey]float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "REMARK   1 %s (%s)\n", rec.Identifier, rec.Stage)

	serial := 0
	for i, atom := range rec.Atoms {
		serial++
		bf := 0.0
		if bfactors != nil {
			bf = bfactors[types.ResidueKey{Chain: atom.Chain, Index: atom.ResidueIndex, InsertionCode: atom.InsertionCode}]
		}
		writeAtom(bw, serial, atom, bf)

		last := i == len(rec.Atoms)-1
		if last || rec.Atoms[i+1].Chain != atom.Chain {
			serial++
			fmt.Fprintf(bw, "TER   %5d      %3s %1s%4d%1s\n",
				serial%100000, atom.ResidueName, atom.Chain, atom.ResidueIndex, atom.InsertionCode)
		}
	}
	fmt.Fprintln(bw, "END")
	return bw.Flush()
}

func writeAtom(w io.Writer, serial int, atom types.Atom, bfactor float64) {
	record := "ATOM"
	if atom.Hetero {
		record = "HETATM"
	}
	// Names shorter than four characters start in column 14 unless the element has two letters.
	name := atom.Name
	if len(name) < 4 && len(atom.Element) < 2 {
		name = " " + name
	}
	fmt.Fprintf(w, "%-6s%5d %-4s %3s %1s%4d%1s   %8.3f%8.3f%8.3f%6.2f%6.2f          %2s\n",
		record, serial%100000, name, atom.ResidueName, atom.Chain, atom.ResidueIndex, atom.InsertionCode,
		atom.Coord[0], atom.Coord[1], atom.Coord[2], 1.0, bfactor, atom.Element)
}

// WriteFile writes the record to path, creating or truncating it.
func WriteFile(path string, rec *types.StructureRecord, bfactors map[types.ResidueKey]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, rec, bfactors); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
