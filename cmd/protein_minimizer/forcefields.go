package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/protein-minimizer/internal/types"
)

var forceFieldsCommand = &cobra.Command{
	Use:   "forcefields",
	Short: "List supported force fields and solvent models",
	Args:  cobra.NoArgs,
	RunE:  runForceFieldsCmd,
}

func init() {
	rootCmd.AddCommand(forceFieldsCommand)
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func runForceFieldsCmd(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%-10s %-9s %s\n", "NAME", "IMPLICIT", "FILES")
	for _, ff := range types.ForceFields {
		implicit := "no"
		if ff.ImplicitCompatible {
			implicit = "yes"
		}
		fmt.Fprintf(out, "%-10s %-9s %s\n", ff.Name, implicit, strings.Join(ff.ExplicitFiles, ", "))
	}

	fmt.Fprintln(out, "\nSolvent models:")
	for _, name := range []string{"none", "tip3p", "spce", "gbn2", "obc2"} {
		model, err := types.ParseSolvent(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-6s %s\n", name, model)
	}
	return nil
}
