package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/protein-minimizer/internal/db"
)

var runsCommand = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch runs recorded in the database",
}

var runsListCommand = &cobra.Command{
	Use:   "list",
	Short: "List recent batch runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsListCmd,
}

var runsShowCommand = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the item outcomes of a batch run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShowCmd,
}

var (
	runsDatabaseURL string
	runsLimit       int
)

func init() {
	runsCommand.PersistentFlags().StringVar(&runsDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	runsListCommand.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")

	runsCommand.AddCommand(runsListCommand, runsShowCommand)
	rootCmd.AddCommand(runsCommand)
}

func connectRuns(ctx context.Context) (*db.DB, error) {
	url := runsDatabaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	return db.Connect(ctx, url)
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func runRunsListCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	database, err := connectRuns(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-19s  %-10s  %-9s  %s\n", "ID", "CREATED", "STATUS", "OK/TOTAL", "SETUP")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s  %-19s  %-10s  %4d/%-4d  %s, %s, %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.Succeeded, r.ItemCount,
			r.ForceField, r.Solvent, r.Hardware)
	}
	return nil
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func runRunsShowCmd(cmd *cobra.Command, args []string) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id format: %w", err)
	}

	ctx := cmd.Context()
	database, err := connectRuns(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := database.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	items, err := database.ListItems(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(out, "  %s, %s, %s, max %d iterations\n\n", run.ForceField, run.Solvent, run.Hardware, run.MaxIterations)
	for _, item := range items {
		switch {
		case item.FailureKind != nil:
			fmt.Fprintf(out, "  %-20s %-9s %s: %s\n", item.Identifier, item.Status, *item.FailureKind, deref(item.FailureReason))
		case item.DeltaEnergy != nil && item.GlobalRMSD != nil:
			fmt.Fprintf(out, "  %-20s %-9s ΔE %.4f kJ/mol, RMSD %.4f Å\n", item.Identifier, item.Status, *item.DeltaEnergy, *item.GlobalRMSD)
		default:
			fmt.Fprintf(out, "  %-20s %-9s\n", item.Identifier, item.Status)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
