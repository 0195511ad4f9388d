// Package report aggregates per-item outcomes into a batch report and writes the
// batch artifacts: CSV tables, run metadata and a parameter summary.
package report

import (
	"sort"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Aggregate partitions outcomes into successes and failures. Every list in the
// returned report follows input order (ItemOutcome.Index), not completion order.
func Aggregate(outcomes []types.ItemOutcome) *types.BatchReport {
	items := make([]types.ItemOutcome, len(outcomes))
	copy(items, outcomes)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })

	rep := &types.BatchReport{
		Energies:       []types.EnergyRecord{},
		GlobalRMSD:     []types.GlobalRMSDSummary{},
		PerResidue:     []types.RMSDResult{},
		Failures:       []types.FailedItem{},
		RenderWarnings: []types.RenderWarning{},
		Items:          items,
	}

	for _, item := range items {
		if item.RenderWarning != "" {
			rep.RenderWarnings = append(rep.RenderWarnings, types.RenderWarning{
				Identifier: item.Identifier,
				Reason:     item.RenderWarning,
			})
		}

		if !item.Succeeded() || item.Energy == nil || item.RMSD == nil {
			failure := types.FailedItem{Identifier: item.Identifier, Stage: item.State, Kind: types.FailureCancelled, Reason: "not processed"}
			if item.Failure != nil {
				failure.Stage = item.Failure.Stage
				failure.Kind = item.Failure.Kind
				failure.Reason = item.Failure.Reason
			}
			if failure.Kind == types.FailureCancelled {
				rep.Cancelled = true
			}
			rep.Failures = append(rep.Failures, failure)
			continue
		}

		rep.Energies = append(rep.Energies, *item.Energy)
		rep.GlobalRMSD = append(rep.GlobalRMSD, item.RMSD.Summary())
		rep.PerResidue = append(rep.PerResidue, *item.RMSD)
	}
	return rep
}

// Counts returns the number of succeeded, failed and cancelled items.
func Counts(rep *types.BatchReport) (succeeded, failed, cancelled int) {
	for _, item := range rep.Items {
		switch item.Status() {
		case types.StatusSucceeded:
			succeeded++
		case types.StatusCancelled:
			cancelled++
		default:
			failed++
		}
	}
	return succeeded, failed, cancelled
}
