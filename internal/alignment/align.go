package alignment

import (
	"fmt"
	"math"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Align superposes mobile onto reference and returns the global RMSD and one RMSD per
// residue in reference residue order. Per-residue values use the global transform;
// residues are never re-aligned individually.
func Align(reference, mobile *types.StructureRecord) (*types.RMSDResult, error) {
	result, _, err := align(reference, mobile)
	return result, err
}

// AlignAndSuperpose is Align that also returns a copy of mobile moved into the
// reference frame, for writing or rendering the overlay.
func AlignAndSuperpose(reference, mobile *types.StructureRecord) (*types.RMSDResult, *types.StructureRecord, error) {
	result, transform, err := align(reference, mobile)
	if err != nil {
		return nil, nil, err
	}
	moved, err := mobile.WithCoords(mobile.Stage, transform.ApplyAll(mobile.Coords()))
	if err != nil {
		return nil, nil, &Error{Message: "failed to apply transform", Cause: err}
	}
	return result, moved, nil
}

func align(reference, mobile *types.StructureRecord) (*types.RMSDResult, Transform, error) {
	if err := CheckTopology(reference, mobile); err != nil {
		return nil, Transform{}, err
	}

	refCoords := reference.Coords()
	transform, err := Superpose(refCoords, mobile.Coords())
	if err != nil {
		return nil, Transform{}, err
	}

	sq := make([]float64, len(refCoords))
	total := 0.0
	for i, atom := range mobile.Atoms {
		sq[i] = squaredDistance(transform.Apply(atom.Coord), refCoords[i])
		total += sq[i]
	}

	result := &types.RMSDResult{
		Identifier: reference.Identifier,
		GlobalRMSD: math.Sqrt(total / float64(len(sq))),
		AtomCount:  len(sq),
		PerResidue: make([]types.ResidueRMSD, 0, len(reference.Residues)),
	}

	for _, res := range reference.Residues {
		row := types.ResidueRMSD{
			Chain:         res.Chain,
			ResidueIndex:  res.Index,
			InsertionCode: res.InsertionCode,
			ResidueName:   res.Name,
			AtomCount:     res.AtomCount(),
		}
		if row.AtomCount <= 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("residue %s %s has no atoms; RMSD reported as 0", res.Key(), res.Name))
			row.AtomCount = 0
			result.PerResidue = append(result.PerResidue, row)
			continue
		}
		sum := 0.0
		for i := res.Start; i < res.End; i++ {
			sum += sq[i]
		}
		row.RMSD = math.Sqrt(sum / float64(row.AtomCount))
		result.PerResidue = append(result.PerResidue, row)
	}
	return result, transform, nil
}

// CheckTopology verifies that both records describe the same atoms in the same order:
// identifier, atom count, and per atom the name, residue and chain labels. Chain
// relabelling between the two is reported as a mismatch.
func CheckTopology(reference, mobile *types.StructureRecord) error {
	if reference == nil || mobile == nil {
		return &TopologyMismatchError{Message: "missing structure"}
	}
	if reference.Identifier != mobile.Identifier {
		return &TopologyMismatchError{
			Message: fmt.Sprintf("identifiers differ: %q vs %q", reference.Identifier, mobile.Identifier),
		}
	}
	if len(reference.Atoms) != len(mobile.Atoms) {
		return &TopologyMismatchError{
			Message: fmt.Sprintf("%s: atom counts differ: %d vs %d", reference.Identifier, len(reference.Atoms), len(mobile.Atoms)),
		}
	}
	if len(reference.Atoms) == 0 {
		return &TopologyMismatchError{Message: fmt.Sprintf("%s: no atoms", reference.Identifier)}
	}
	if len(reference.Residues) != len(mobile.Residues) {
		return &TopologyMismatchError{
			Message: fmt.Sprintf("%s: residue counts differ: %d vs %d", reference.Identifier, len(reference.Residues), len(mobile.Residues)),
		}
	}
	for i := range reference.Atoms {
		a, b := reference.Atoms[i], mobile.Atoms[i]
		if a.Name != b.Name || a.ResidueName != b.ResidueName || a.Chain != b.Chain ||
			a.ResidueIndex != b.ResidueIndex || a.InsertionCode != b.InsertionCode {
			return &TopologyMismatchError{
				Message: fmt.Sprintf("%s: atom %d differs: %s %s %s%d%s vs %s %s %s%d%s", reference.Identifier, i,
					a.Name, a.ResidueName, a.Chain, a.ResidueIndex, a.InsertionCode,
					b.Name, b.ResidueName, b.Chain, b.ResidueIndex, b.InsertionCode),
			}
		}
	}
	for i, res := range reference.Residues {
		if res.Start < 0 || res.End > len(reference.Atoms) || res.Start > res.End {
			return &TopologyMismatchError{
				Message: fmt.Sprintf("%s: residue %s spans atoms [%d, %d) outside the structure", reference.Identifier, res.Key(), res.Start, res.End),
			}
		}
		if res != mobile.Residues[i] {
			return &TopologyMismatchError{
				Message: fmt.Sprintf("%s: residue %d differs: %s vs %s", reference.Identifier, i,
					reference.Residues[i].Key(), mobile.Residues[i].Key()),
			}
		}
	}
	return nil
}
