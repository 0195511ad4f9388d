package types

// ResidueRMSD is the deviation of one residue after global superposition, in Angstrom.
type ResidueRMSD struct {
	Chain         string  `json:"chain"`
	ResidueIndex  int     `json:"residue_index"`
	InsertionCode string  `json:"insertion_code,omitempty"`
	ResidueName   string  `json:"residue_name"`
	AtomCount     int     `json:"atom_count"`
	RMSD          float64 `json:"rmsd"`
}

// Key returns the residue key the row belongs to.
func (r ResidueRMSD) Key() ResidueKey {
	return ResidueKey{Chain: r.Chain, Index: r.ResidueIndex, InsertionCode: r.InsertionCode}
}

// RMSDResult is the outcome of aligning two structures with identical topology.
type RMSDResult struct {
	Identifier string        `json:"identifier"`
	GlobalRMSD float64       `json:"global_rmsd"`
	AtomCount  int           `json:"atom_count"`
	PerResidue []ResidueRMSD `json:"per_residue"`
	// Warnings lists data-integrity issues found while aligning, such as empty residues.
	Warnings []string `json:"warnings,omitempty"`
}

// GlobalRMSDSummary is one row of the global RMSD table.
type GlobalRMSDSummary struct {
	Identifier string  `json:"identifier"`
	GlobalRMSD float64 `json:"global_rmsd"`
}

// Summary returns the global table row for the result.
func (r RMSDResult) Summary() GlobalRMSDSummary {
	return GlobalRMSDSummary{Identifier: r.Identifier, GlobalRMSD: r.GlobalRMSD}
}

// ByResidue maps residue keys to their RMSD, e.g. for writing B-factors.
func (r RMSDResult) ByResidue() map[ResidueKey]float64 {
	out := make(map[ResidueKey]float64, len(r.PerResidue))
	for _, row := range r.PerResidue {
		out[row.Key()] = row.RMSD
	}
	return out
}
