package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// ItemRecord is the per-item status line of the run metadata.
type ItemRecord struct {
	Identifier    string            `json:"identifier"`
	Status        types.ItemStatus  `json:"status"`
	State         types.ItemState   `json:"state"`
	Stage         types.ItemState   `json:"stage,omitempty"`
	Kind          types.FailureKind `json:"kind,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Platform      string            `json:"platform,omitempty"`
	RenderWarning string            `json:"render_warning,omitempty"`
}

// Metadata is written once per batch so a run can be reproduced.
type Metadata struct {
	RunID                string                   `json:"run_id"`
	CreatedAt            time.Time                `json:"created_at"`
	ForceField           types.ForceField         `json:"force_field"`
	SolventModel         string                   `json:"solvent_model"`
	Solvent              types.SolventModel       `json:"solvent"`
	MaxIterations        int                      `json:"max_iterations"`
	Hardware             types.Hardware           `json:"hardware"`
	GPUPlatform          string                   `json:"gpu_platform,omitempty"`
	GPUDevices           []int                    `json:"gpu_devices,omitempty"`
	CPUThreads           int                      `json:"cpu_threads"`
	PH                   float64                  `json:"ph"`
	EnergyTolerance      float64                  `json:"energy_tolerance"`
	ConvergenceTolerance float64                  `json:"convergence_tolerance"`
	Render               bool                     `json:"render"`
	System               mechanics.SystemSettings `json:"system"`
	Items                []ItemRecord             `json:"items"`
	Succeeded            int                      `json:"succeeded"`
	Failed               int                      `json:"failed"`
	Cancelled            int                      `json:"cancelled"`
}

// NewMetadata records the configuration and per-item status of a finished batch.
func NewMetadata(runID uuid.UUID, cfg types.RunConfiguration, render bool, rep *types.BatchReport) (*Metadata, error) {
	system, err := mechanics.Settings(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to derive system settings: %w", err)
	}

	meta := &Metadata{
		RunID:                runID.String(),
		CreatedAt:            time.Now().UTC(),
		ForceField:           cfg.ForceField,
		SolventModel:         cfg.Solvent.String(),
		Solvent:              cfg.Solvent,
		MaxIterations:        cfg.MaxIterations,
		Hardware:             cfg.Hardware,
		CPUThreads:           cfg.CPUThreads,
		PH:                   cfg.PH,
		EnergyTolerance:      cfg.EnergyTolerance,
		ConvergenceTolerance: cfg.ConvergenceTolerance,
		Render:               render,
		System:               system,
		Items:                make([]ItemRecord, 0, len(rep.Items)),
	}
	if cfg.Hardware == types.GPU {
		meta.GPUPlatform = cfg.GPUPlatform
		meta.GPUDevices = cfg.Devices()
	}

	for _, item := range rep.Items {
		rec := ItemRecord{
			Identifier:    item.Identifier,
			Status:        item.Status(),
			State:         item.State,
			Platform:      item.Platform,
			RenderWarning: item.RenderWarning,
		}
		if item.Failure != nil {
			rec.Stage = item.Failure.Stage
			rec.Kind = item.Failure.Kind
			rec.Reason = item.Failure.Reason
		}
		meta.Items = append(meta.Items, rec)
	}
	meta.Succeeded, meta.Failed, meta.Cancelled = Counts(rep)
	return meta, nil
}

// WriteParameters writes the human-readable parameter summary.
func WriteParameters(w io.Writer, meta *Metadata) error {
	var sb strings.Builder
	sb.WriteString("Energy Minimization and RMSD Analysis Parameters\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&sb, "Run ID: %s\n", meta.RunID)
	fmt.Fprintf(&sb, "Force field: %s\n", meta.ForceField)
	fmt.Fprintf(&sb, "Force field files: %s\n", strings.Join(meta.System.ForceFieldFiles, ", "))
	fmt.Fprintf(&sb, "Solvent model: %s\n", meta.SolventModel)
	fmt.Fprintf(&sb, "Minimization iterations: %d\n", meta.MaxIterations)
	fmt.Fprintf(&sb, "Hardware: %s\n", meta.Hardware)
	if meta.Hardware == types.GPU {
		fmt.Fprintf(&sb, "GPU platform: %s (devices %v)\n", meta.GPUPlatform, meta.GPUDevices)
	}
	if meta.CPUThreads > 0 {
		fmt.Fprintf(&sb, "CPU threads used: %d\n", meta.CPUThreads)
	} else {
		sb.WriteString("CPU threads used: All available\n")
	}

	fmt.Fprintf(&sb, "Non-bonded method: %s\n", meta.System.NonbondedMethod)
	switch meta.Solvent.Kind {
	case types.SolventExplicit:
		fmt.Fprintf(&sb, "Non-bonded cutoff: %.1f nm\n", meta.System.NonbondedCutoffNM)
		fmt.Fprintf(&sb, "Solvent padding: %.1f nm\n", meta.System.PaddingNM)
	case types.SolventImplicit:
		fmt.Fprintf(&sb, "Implicit solvent model: %s\n", meta.Solvent.Implicit)
		fmt.Fprintf(&sb, "Solute dielectric: %.1f\n", meta.System.SoluteDielectric)
		fmt.Fprintf(&sb, "Solvent dielectric: %.1f\n", meta.System.SolventDielectric)
	}

	fmt.Fprintf(&sb, "pH for adding hydrogens: %.1f\n", meta.PH)
	fmt.Fprintf(&sb, "Energy tolerance: %g kJ/mol\n", meta.EnergyTolerance)
	fmt.Fprintf(&sb, "Convergence tolerance: %g kJ/mol/nm\n", meta.ConvergenceTolerance)
	fmt.Fprintf(&sb, "Rendering performed: %s\n", yesNo(meta.Render))
	fmt.Fprintf(&sb, "Total proteins processed: %d\n", len(meta.Items))
	fmt.Fprintf(&sb, "Succeeded: %d, failed: %d, cancelled: %d\n", meta.Succeeded, meta.Failed, meta.Cancelled)

	_, err := io.WriteString(w, sb.String())
	return err
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
