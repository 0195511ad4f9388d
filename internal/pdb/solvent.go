package pdb

import (
	"strings"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// SolventResidues are residue names removed before comparing a minimized structure
// with its repaired input: water and common counter-ions.
var SolventResidues = map[string]bool{
	"HOH": true, "WAT": true, "TIP": true, "TIP3": true, "SOL": true,
	"NA": true, "CL": true, "K": true, "CA": true, "MG": true,
}

// IsSolvent reports whether an atom belongs to a solvent or ion residue.
func IsSolvent(atom types.Atom) bool {
	return SolventResidues[strings.ToUpper(atom.ResidueName)]
}

// StripSolvent returns a copy of rec without solvent and ion atoms, with residues re-derived.
// The second value is the number of atoms removed.
func StripSolvent(rec *types.StructureRecord) (*types.StructureRecord, int) {
	atoms := make([]types.Atom, 0, len(rec.Atoms))
	for _, atom := range rec.Atoms {
		if !IsSolvent(atom) {
			atoms = append(atoms, atom)
		}
	}
	return types.NewStructureRecord(rec.Identifier, rec.Stage, atoms), len(rec.Atoms) - len(atoms)
}
