// Package observability provides logging and formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/protein-minimizer/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for run summaries
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintConfiguration outputs the physics and hardware settings of a run.
func (p *Printer) PrintConfiguration(cfg types.RunConfiguration) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Force field:    %s\n", cfg.ForceField))
	sb.WriteString(fmt.Sprintf("Solvent:        %s\n", cfg.Solvent))
	sb.WriteString(fmt.Sprintf("Max iterations: %d\n", cfg.MaxIterations))
	if cfg.Hardware == types.GPU {
		sb.WriteString(fmt.Sprintf("Hardware:       GPU (%s, devices %v)\n", cfg.GPUPlatform, cfg.Devices()))
	} else if cfg.CPUThreads > 0 {
		sb.WriteString(fmt.Sprintf("Hardware:       CPU (%d threads)\n", cfg.CPUThreads))
	} else {
		sb.WriteString("Hardware:       CPU (all threads)\n")
	}
	sb.WriteString(fmt.Sprintf("pH:             %.1f", cfg.PH))

	p.printBox("RUN CONFIGURATION", sb.String())
}

// PrintEnergies outputs the energy change of the first successful items.
func (p *Printer) PrintEnergies(rep *types.BatchReport) {
	if rep == nil || len(rep.Energies) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Minimized %d structures (kJ/mol):\n\n", len(rep.Energies)))

	count := min(len(rep.Energies), maxItemsToShow)
	for i := 0; i < count; i++ {
		e := rep.Energies[i]
		sb.WriteString(fmt.Sprintf("%-16s %14.2f -> %14.2f\n", truncate(e.Identifier, 16), e.InitialEnergy, e.FinalEnergy))
		sb.WriteString(fmt.Sprintf("    Delta: %.4f", e.DeltaEnergy))
		if e.EnergyIncreased {
			sb.WriteString("  ⚠ increased")
		}
		sb.WriteString("\n")
	}

	if len(rep.Energies) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more structures", len(rep.Energies)-maxItemsToShow))
	}

	p.printBox("ENERGY MINIMIZATION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRMSD outputs global RMSD values and the most displaced residues per structure.
func (p *Printer) PrintRMSD(rep *types.BatchReport) {
	if rep == nil || len(rep.PerResidue) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(rep.PerResidue), maxItemsToShow)
	for i := 0; i < count; i++ {
		r := rep.PerResidue[i]
		sb.WriteString(fmt.Sprintf("%s  global %.4f Å over %d atoms\n", r.Identifier, r.GlobalRMSD, r.AtomCount))
		if top := mostDisplaced(r.PerResidue, 3); len(top) > 0 {
			parts := make([]string, 0, len(top))
			for _, row := range top {
				parts = append(parts, fmt.Sprintf("%s %s %.2f", row.ResidueName, row.Key(), row.RMSD))
			}
			sb.WriteString(fmt.Sprintf("    Top: %s\n", strings.Join(parts, ", ")))
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(rep.PerResidue) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more structures", len(rep.PerResidue)-maxItemsToShow))
	}

	p.printBox("STRUCTURAL DEVIATION (RMSD)", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFailures outputs failed items and render warnings.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFailures(rep *types.BatchReport) {
	if rep == nil || (len(rep.Failures) == 0 && len(rep.RenderWarnings) == 0) {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ ALL STRUCTURES PROCESSED")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	if len(rep.Failures) > 0 {
		sb.WriteString(fmt.Sprintf("Failed %d structures:\n\n", len(rep.Failures)))
		for _, f := range rep.Failures {
			sb.WriteString(fmt.Sprintf("✗ %s (%s at %s)\n", f.Identifier, f.Kind, f.Stage))
			sb.WriteString(fmt.Sprintf("  %s\n", truncate(f.Reason, 45)))
		}
	}
	if len(rep.RenderWarnings) > 0 {
		if len(rep.Failures) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Render warnings:\n")
		for _, w := range rep.RenderWarnings {
			sb.WriteString(fmt.Sprintf("⚠ %s: %s\n", w.Identifier, truncate(w.Reason, 40)))
		}
	}
	if rep.Cancelled {
		sb.WriteString("\nBatch was cancelled before all items completed.\n")
	}

	p.printBox("FAILURES AND WARNINGS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReport prints every summary box for a finished batch.
func (p *Printer) PrintReport(rep *types.BatchReport) {
	p.PrintEnergies(rep)
	p.PrintRMSD(rep)
	p.PrintFailures(rep)
}

// mostDisplaced returns up to n rows with the largest RMSD, ties broken by input order.
func mostDisplaced(rows []types.ResidueRMSD, n int) []types.ResidueRMSD {
	var top []types.ResidueRMSD
	for _, row := range rows {
		pos := len(top)
		for pos > 0 && top[pos-1].RMSD < row.RMSD {
			pos--
		}
		if pos >= n {
			continue
		}
		top = append(top, types.ResidueRMSD{})
		copy(top[pos+1:], top[pos:])
		top[pos] = row
		if len(top) > n {
			top = top[:n]
		}
	}
	return top
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
