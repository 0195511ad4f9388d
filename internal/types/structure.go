// Package types provides type definitions for structured data used throughout the protein-minimizer system.
package types

import "fmt"

// Stage marks where a StructureRecord sits in the pipeline.
type Stage string

// Stage values
const (
	StageRaw       Stage = "raw"
	StageRepaired  Stage = "repaired"
	StageMinimized Stage = "minimized"
)

// Coord is a Cartesian coordinate in Angstrom.
type Coord [3]float64

// Atom is a single ATOM/HETATM entry of a structure.
type Atom struct {
	Serial        int    `json:"serial"`
	Name          string `json:"name"`
	Element       string `json:"element"`
	ResidueName   string `json:"residue_name"`
	Chain         string `json:"chain"`
	ResidueIndex  int    `json:"residue_index"`
	InsertionCode string `json:"insertion_code,omitempty"`
	Hetero        bool   `json:"hetero,omitempty"`
	Coord         Coord  `json:"coord"`
}

// ResidueKey identifies a residue independently of its atoms.
type ResidueKey struct {
	Chain         string
	Index         int
	InsertionCode string
}

// String renders the key the way PDB viewers do, e.g. "A:42" or "A:42B".
func (k ResidueKey) String() string {
	return fmt.Sprintf("%s:%d%s", k.Chain, k.Index, k.InsertionCode)
}

// Residue describes a contiguous run of atoms sharing chain, residue index and name.
// Atoms in [Start, End) of the owning record belong to this residue.
type Residue struct {
	Chain         string `json:"chain"`
	Index         int    `json:"residue_index"`
	InsertionCode string `json:"insertion_code,omitempty"`
	Name          string `json:"residue_name"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
}

// Key returns the residue's identifying key.
func (r Residue) Key() ResidueKey {
	return ResidueKey{Chain: r.Chain, Index: r.Index, InsertionCode: r.InsertionCode}
}

// AtomCount returns the number of atoms in the residue.
func (r Residue) AtomCount() int {
	return r.End - r.Start
}

// StructureRecord is the in-memory representation of one protein at a pipeline stage.
// Topology (atoms minus coordinates, residues) never changes after repair; minimization
// produces a new record with the same topology and new coordinates.
type StructureRecord struct {
	Identifier string    `json:"identifier"`
	Stage      Stage     `json:"stage"`
	Atoms      []Atom    `json:"atoms"`
	Residues   []Residue `json:"residues"`
}

// NewStructureRecord builds a record and derives its residues from the atom order.
func NewStructureRecord(identifier string, stage Stage, atoms []Atom) *StructureRecord {
	return &StructureRecord{
		Identifier: identifier,
		Stage:      stage,
		Atoms:      atoms,
		Residues:   DeriveResidues(atoms),
	}
}

// DeriveResidues groups consecutive atoms into residues. A new residue starts whenever
// chain, residue index, insertion code or residue name changes.
func DeriveResidues(atoms []Atom) []Residue {
	residues := make([]Residue, 0)
	for i, atom := range atoms {
		if n := len(residues); n > 0 {
			last := &residues[n-1]
			if last.Chain == atom.Chain && last.Index == atom.ResidueIndex &&
				last.InsertionCode == atom.InsertionCode && last.Name == atom.ResidueName {
				last.End = i + 1
				continue
			}
		}
		residues = append(residues, Residue{
			Chain:         atom.Chain,
			Index:         atom.ResidueIndex,
			InsertionCode: atom.InsertionCode,
			Name:          atom.ResidueName,
			Start:         i,
			End:           i + 1,
		})
	}
	return residues
}

// Coords returns a copy of the atom coordinates in atom order.
func (s *StructureRecord) Coords() []Coord {
	coords := make([]Coord, len(s.Atoms))
	for i, atom := range s.Atoms {
		coords[i] = atom.Coord
	}
	return coords
}

// Clone returns a deep copy of the record.
func (s *StructureRecord) Clone() *StructureRecord {
	atoms := make([]Atom, len(s.Atoms))
	copy(atoms, s.Atoms)
	residues := make([]Residue, len(s.Residues))
	copy(residues, s.Residues)
	return &StructureRecord{
		Identifier: s.Identifier,
		Stage:      s.Stage,
		Atoms:      atoms,
		Residues:   residues,
	}
}

// WithCoords returns a copy of the record at the given stage with coordinates replaced.
// The number of coordinates must match the number of atoms.
func (s *StructureRecord) WithCoords(stage Stage, coords []Coord) (*StructureRecord, error) {
	if len(coords) != len(s.Atoms) {
		return nil, fmt.Errorf("got %d coordinates for %d atoms", len(coords), len(s.Atoms))
	}
	out := s.Clone()
	out.Stage = stage
	for i := range out.Atoms {
		out.Atoms[i].Coord = coords[i]
	}
	return out, nil
}

// ResidueCount returns the number of residues in the record.
func (s *StructureRecord) ResidueCount() int {
	return len(s.Residues)
}
