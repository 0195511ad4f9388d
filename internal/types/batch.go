package types

// ItemState is a position in the per-item state machine:
// Pending -> Repaired -> Minimized -> Aligned -> (Rendered | RenderSkipped) -> Done,
// with Failed reachable from any non-terminal state.
type ItemState string

// Item states
const (
	StatePending       ItemState = "Pending"
	StateRepaired      ItemState = "Repaired"
	StateMinimized     ItemState = "Minimized"
	StateAligned       ItemState = "Aligned"
	StateRendered      ItemState = "Rendered"
	StateRenderSkipped ItemState = "RenderSkipped"
	StateDone          ItemState = "Done"
	StateFailed        ItemState = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s ItemState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FailureKind classifies why an item failed.
type FailureKind string

// Failure kinds
const (
	FailureRepair        FailureKind = "repair"
	FailureConfiguration FailureKind = "configuration"
	FailureMinimization  FailureKind = "minimization"
	FailureTopology      FailureKind = "topology"
	FailureAlignment     FailureKind = "alignment"
	FailureInput         FailureKind = "input"
	FailureCancelled     FailureKind = "cancelled"
	FailurePanic         FailureKind = "panic"
)

// Failure records the stage an item was attempting and why it stopped.
// Stage is the state the item was trying to reach, so a repair failure carries
// StateRepaired. Cancelled items carry the last state they completed.
type Failure struct {
	Stage  ItemState   `json:"stage"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// ItemStatus is the per-item summary written to run metadata.
type ItemStatus string

// Item statuses
const (
	StatusSucceeded ItemStatus = "succeeded"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

// ItemOutcome is the immutable result of driving one input through the pipeline.
type ItemOutcome struct {
	Index      int           `json:"index"`
	Identifier string        `json:"identifier"`
	State      ItemState     `json:"state"`
	History    []ItemState   `json:"history"`
	Failure    *Failure      `json:"failure,omitempty"`
	Energy     *EnergyRecord `json:"energy,omitempty"`
	RMSD       *RMSDResult   `json:"rmsd,omitempty"`
	Platform   string        `json:"platform,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	// RenderWarning is set when rendering failed; numeric results are kept.
	RenderWarning string `json:"render_warning,omitempty"`
	// Artifacts lists files written for this item (minimized PDB, image, session).
	Artifacts []string `json:"artifacts,omitempty"`
}

// Succeeded reports whether the item reached Done.
func (o ItemOutcome) Succeeded() bool {
	return o.State == StateDone && o.Failure == nil
}

// Status summarizes the outcome for metadata.
func (o ItemOutcome) Status() ItemStatus {
	switch {
	case o.Succeeded():
		return StatusSucceeded
	case o.Failure != nil && o.Failure.Kind == FailureCancelled:
		return StatusCancelled
	}
	return StatusFailed
}

// FailedItem is one entry of the batch failure list.
type FailedItem struct {
	Identifier string      `json:"identifier"`
	Stage      ItemState   `json:"stage"`
	Kind       FailureKind `json:"kind"`
	Reason     string      `json:"reason"`
}

// RenderWarning is one entry of the batch render-warning list.
type RenderWarning struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// BatchReport aggregates all item outcomes. Every slice follows input order.
type BatchReport struct {
	Energies       []EnergyRecord      `json:"energies"`
	GlobalRMSD     []GlobalRMSDSummary `json:"global_rmsd"`
	PerResidue     []RMSDResult        `json:"per_residue"`
	Failures       []FailedItem        `json:"failures"`
	RenderWarnings []RenderWarning     `json:"render_warnings"`
	Items          []ItemOutcome       `json:"items"`
	Cancelled      bool                `json:"cancelled"`
}

// SuccessCount returns the number of items that reached Done.
func (r *BatchReport) SuccessCount() int {
	return len(r.Energies)
}
