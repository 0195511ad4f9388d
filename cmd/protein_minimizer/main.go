// Package main provides the entry point for the protein minimization batch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "protein_minimizer",
	Short: "Batch protein structure repair, energy minimization and RMSD analysis",
	Long: `protein_minimizer repairs a directory of PDB structures, minimizes each one with a
molecular mechanics force field, superposes the minimized structure onto the repaired one,
and reports energies and global and per-residue RMSD. Failures are isolated per structure.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
