package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Artifact file names
const (
	EnergiesFile        = "energies.csv"
	GlobalRMSDFile      = "global_rmsd_summary.csv"
	PerResidueFile      = "per_residue_rmsd.csv"
	CombinedRMSDFile    = "per_residue_rmsd_combined.csv"
	MetadataFile        = "run_metadata.json"
	BatchReportFile     = "batch_report.json"
	ParametersFile      = "simulation_parameters.txt"
	MinimizedDir        = "minimized"
	VisualizationsDir   = "visualizations"
	MinimizedFileSuffix = "_minimized.pdb"
)

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func writeAll(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteEnergies writes one row per successful item.
func WriteEnergies(w io.Writer, energies []types.EnergyRecord) error {
	rows := [][]string{{"identifier", "initial_energy (kJ/mol)", "final_energy (kJ/mol)", "delta_energy (kJ/mol)"}}
	for _, e := range energies {
		rows = append(rows, []string{e.Identifier, format(e.InitialEnergy), format(e.FinalEnergy), format(e.DeltaEnergy)})
	}
	return writeAll(w, rows)
}

// WriteGlobalRMSD writes one row per successful item.
func WriteGlobalRMSD(w io.Writer, summaries []types.GlobalRMSDSummary) error {
	rows := [][]string{{"identifier", "global_rmsd (A)"}}
	for _, s := range summaries {
		rows = append(rows, []string{s.Identifier, format(s.GlobalRMSD)})
	}
	return writeAll(w, rows)
}

// WritePerResidue writes the long table: one row per (identifier, residue).
func WritePerResidue(w io.Writer, results []types.RMSDResult) error {
	rows := [][]string{{"identifier", "chain", "residue_index", "insertion_code", "residue_name", "atom_count", "rmsd (A)"}}
	for _, r := range results {
		for _, res := range r.PerResidue {
			rows = append(rows, []string{
				r.Identifier,
				res.Chain,
				strconv.Itoa(res.ResidueIndex),
				res.InsertionCode,
				res.ResidueName,
				strconv.Itoa(res.AtomCount),
				format(res.RMSD),
			})
		}
	}
	return writeAll(w, rows)
}

// WriteCombined writes the wide table: a column triple (name, position, RMSD) per
// structure, one residue per row, padded with empty cells for shorter structures.
func WriteCombined(w io.Writer, results []types.RMSDResult) error {
	header := make([]string, 0, 3*len(results))
	subheader := make([]string, 0, 3*len(results))
	longest := 0
	for _, r := range results {
		header = append(header, r.Identifier, "", "")
		subheader = append(subheader, "Residue_Name", "Residue_Position", "RMSD_A")
		if len(r.PerResidue) > longest {
			longest = len(r.PerResidue)
		}
	}

	rows := [][]string{header, subheader}
	for i := 0; i < longest; i++ {
		row := make([]string, 0, 3*len(results))
		for _, r := range results {
			if i >= len(r.PerResidue) {
				row = append(row, "", "", "")
				continue
			}
			res := r.PerResidue[i]
			row = append(row, res.ResidueName, res.Key().String(), format(res.RMSD))
		}
		rows = append(rows, row)
	}
	return writeAll(w, rows)
}
