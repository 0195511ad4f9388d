package db

import (
	"time"

	"github.com/google/uuid"
)

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run represents a stored batch run
type Run struct {
	ID            uuid.UUID  `json:"id"`
	ForceField    string     `json:"force_field"`
	Solvent       string     `json:"solvent"`
	Hardware      string     `json:"hardware"`
	MaxIterations int        `json:"max_iterations"`
	Status        string     `json:"status"`
	ItemCount     int        `json:"item_count"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Item represents the stored outcome of one structure in a run
type Item struct {
	RunID         uuid.UUID `json:"run_id"`
	Index         int       `json:"index"`
	Identifier    string    `json:"identifier"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	FailureStage  *string   `json:"failure_stage,omitempty"`
	FailureKind   *string   `json:"failure_kind,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	InitialEnergy *float64  `json:"initial_energy,omitempty"`
	FinalEnergy   *float64  `json:"final_energy,omitempty"`
	DeltaEnergy   *float64  `json:"delta_energy,omitempty"`
	GlobalRMSD    *float64  `json:"global_rmsd,omitempty"`
	Platform      *string   `json:"platform,omitempty"`
	RenderWarning *string   `json:"render_warning,omitempty"`
}
