// Package db provides PostgreSQL storage for batch run history.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/protein-minimizer/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Migrate creates the run history tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun records the start of a batch run
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, cfg types.RunConfiguration) error {
	params, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal run configuration: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, force_field, solvent, hardware, max_iterations, parameters, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, string(cfg.ForceField), cfg.Solvent.String(), string(cfg.Hardware), cfg.MaxIterations, params, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SaveReport stores every item outcome and per-residue RMSD row of a batch in one transaction.
// Saving the same report twice replaces the earlier rows.
func (db *DB) SaveReport(ctx context.Context, runID uuid.UUID, rep *types.BatchReport) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM residue_rmsd WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear residue rows: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM batch_items WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	for _, outcome := range rep.Items {
		item := itemFromOutcome(runID, outcome)
		_, err := tx.Exec(ctx,
			`INSERT INTO batch_items (run_id, item_index, identifier, state, status,
			        failure_stage, failure_kind, failure_reason,
			        initial_energy, final_energy, delta_energy, global_rmsd, platform, render_warning)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			item.RunID, item.Index, item.Identifier, item.State, item.Status,
			item.FailureStage, item.FailureKind, item.FailureReason,
			item.InitialEnergy, item.FinalEnergy, item.DeltaEnergy, item.GlobalRMSD, item.Platform, item.RenderWarning,
		)
		if err != nil {
			return fmt.Errorf("failed to save item %s: %w", outcome.Identifier, err)
		}
	}

	rows := residueRows(runID, rep)
	if len(rows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"residue_rmsd"},
			[]string{"run_id", "identifier", "chain", "residue_index", "insertion_code", "residue_name", "atom_count", "rmsd"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to save residue rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// CompleteRun marks a batch run as finished with the status derived from its report
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, rep *types.BatchReport) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE batch_runs
		 SET status = $1, item_count = $2, succeeded = $3, failed = $4, completed_at = NOW()
		 WHERE id = $5`,
		RunStatus(rep), len(rep.Items), rep.SuccessCount(), len(rep.Failures), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun marks a run that is still running as failed. Runs already completed keep
// their status.
func (db *DB) FailRun(ctx context.Context, runID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE batch_runs SET status = $1, completed_at = NOW()
		 WHERE id = $2 AND status = $3`,
		RunStatusFailed, runID, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// GetRun retrieves a batch run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, force_field, solvent, hardware, max_iterations, status,
		        item_count, succeeded, failed, created_at, completed_at
		 FROM batch_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.ForceField, &run.Solvent, &run.Hardware, &run.MaxIterations, &run.Status,
		&run.ItemCount, &run.Succeeded, &run.Failed, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves recent batch runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, force_field, solvent, hardware, max_iterations, status,
		        item_count, succeeded, failed, created_at, completed_at
		 FROM batch_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.ForceField, &run.Solvent, &run.Hardware, &run.MaxIterations, &run.Status,
			&run.ItemCount, &run.Succeeded, &run.Failed, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListItems retrieves the item outcomes of a run in input order
func (db *DB) ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, item_index, identifier, state, status, failure_stage, failure_kind, failure_reason,
		        initial_energy, final_energy, delta_energy, global_rmsd, platform, render_warning
		 FROM batch_items WHERE run_id = $1 ORDER BY item_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.RunID, &item.Index, &item.Identifier, &item.State, &item.Status,
			&item.FailureStage, &item.FailureKind, &item.FailureReason,
			&item.InitialEnergy, &item.FinalEnergy, &item.DeltaEnergy, &item.GlobalRMSD,
			&item.Platform, &item.RenderWarning); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RunStatus summarizes a finished batch: cancelled, completed (no failures),
// failed (no successes) or partial.
func RunStatus(rep *types.BatchReport) string {
	switch {
	case rep.Cancelled:
		return RunStatusCancelled
	case len(rep.Failures) == 0:
		return RunStatusCompleted
	case rep.SuccessCount() == 0:
		return RunStatusFailed
	}
	return RunStatusPartial
}

func itemFromOutcome(runID uuid.UUID, o types.ItemOutcome) Item {
	item := Item{
		RunID:      runID,
		Index:      o.Index,
		Identifier: o.Identifier,
		State:      string(o.State),
		Status:     string(o.Status()),
	}
	if o.Failure != nil {
		stage, kind, reason := string(o.Failure.Stage), string(o.Failure.Kind), o.Failure.Reason
		item.FailureStage, item.FailureKind, item.FailureReason = &stage, &kind, &reason
	}
	if o.Energy != nil {
		initial, final, delta := o.Energy.InitialEnergy, o.Energy.FinalEnergy, o.Energy.DeltaEnergy
		item.InitialEnergy, item.FinalEnergy, item.DeltaEnergy = &initial, &final, &delta
	}
	if o.RMSD != nil {
		global := o.RMSD.GlobalRMSD
		item.GlobalRMSD = &global
	}
	if o.Platform != "" {
		platform := o.Platform
		item.Platform = &platform
	}
	if o.RenderWarning != "" {
		warning := o.RenderWarning
		item.RenderWarning = &warning
	}
	return item
}

func residueRows(runID uuid.UUID, rep *types.BatchReport) [][]any {
	var rows [][]any
	for _, result := range rep.PerResidue {
		for _, r := range result.PerResidue {
			rows = append(rows, []any{runID, result.Identifier, r.Chain, r.ResidueIndex, r.InsertionCode, r.ResidueName, r.AtomCount, r.RMSD})
		}
	}
	return rows
}
