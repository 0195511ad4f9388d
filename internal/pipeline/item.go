package pipeline

import (
	"github.com/jonathan/protein-minimizer/internal/pipeline/steps"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// item tracks one input through the state machine. It is owned by a single goroutine.
type item struct {
	outcome types.ItemOutcome
	// next is the state the current stage is trying to reach.
	next types.ItemState
}

func newItem(index int, identifier string) *item {
	return &item{
		outcome: types.ItemOutcome{
			Index:      index,
			Identifier: identifier,
			State:      types.StatePending,
			History:    []types.ItemState{types.StatePending},
		},
		next: types.StatePending,
	}
}

// begin records the state the next stage is working towards.
func (it *item) begin(next types.ItemState) {
	it.next = next
}

// advance moves the item to state to, rejecting transitions the state machine forbids.
func (it *item) advance(to types.ItemState) error {
	if err := steps.ValidateTransition(it.outcome.State, to); err != nil {
		return err
	}
	it.outcome.State = to
	it.outcome.History = append(it.outcome.History, to)
	return nil
}

// fail marks the item Failed at the stage in progress. Results computed so far are dropped.
func (it *item) fail(kind types.FailureKind, err error) types.ItemOutcome {
	stage := it.next
	if kind == types.FailureCancelled {
		stage = it.outcome.State
	}
	it.outcome.Failure = &types.Failure{Stage: stage, Kind: kind, Reason: err.Error()}
	it.outcome.Energy = nil
	it.outcome.RMSD = nil
	if !it.outcome.State.Terminal() {
		it.outcome.State = types.StateFailed
		it.outcome.History = append(it.outcome.History, types.StateFailed)
	}
	return it.outcome
}

// cancelled marks the item Failed with kind cancelled at the last completed state.
func (it *item) cancelled() types.ItemOutcome {
	it.outcome.Failure = &types.Failure{
		Stage:  it.outcome.State,
		Kind:   types.FailureCancelled,
		Reason: "batch cancelled before " + nextStageName(it.outcome.State),
	}
	it.outcome.Energy = nil
	it.outcome.RMSD = nil
	it.outcome.State = types.StateFailed
	it.outcome.History = append(it.outcome.History, types.StateFailed)
	return it.outcome
}

// finish moves an aligned item through its render outcome to Done.
func (it *item) finish(render types.ItemState) types.ItemOutcome {
	if err := it.advance(render); err != nil {
		return it.fail(types.FailurePanic, err)
	}
	if err := it.advance(types.StateDone); err != nil {
		return it.fail(types.FailurePanic, err)
	}
	return it.outcome
}

// skip finishes an aligned item through the alternative of an optional stage.
func (it *item) skip(stage string) types.ItemOutcome {
	alt, err := steps.Alternative(stage)
	if err != nil {
		return it.fail(types.FailurePanic, err)
	}
	return it.finish(alt.To)
}

func nextStageName(state types.ItemState) string {
	for _, name := range steps.Order {
		if steps.StageRegistry[name].From == state {
			return name
		}
	}
	return "completion"
}
