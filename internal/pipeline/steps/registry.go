// Package steps provides stage definitions and transition validation for the per-item
// state machine of a batch run.
package steps

import (
	"fmt"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// Stage names
const (
	StageRepair     = "repair"
	StageMinimize   = "minimize"
	StageAlign      = "align"
	StageRender     = "render"
	StageSkipRender = "skip_render"
	StageFinish     = "finish"
)

// StageDefinition defines one transition of an item through the pipeline.
type StageDefinition struct {
	Name string
	From types.ItemState
	To   types.ItemState
	// Optional stages may be replaced by an alternative leading to the same next state.
	Optional bool
}

// StageRegistry holds all stage definitions
var StageRegistry = map[string]StageDefinition{
	StageRepair: {
		Name: StageRepair,
		From: types.StatePending,
		To:   types.StateRepaired,
	},
	StageMinimize: {
		Name: StageMinimize,
		From: types.StateRepaired,
		To:   types.StateMinimized,
	},
	StageAlign: {
		Name: StageAlign,
		From: types.StateMinimized,
		To:   types.StateAligned,
	},
	StageRender: {
		Name:     StageRender,
		From:     types.StateAligned,
		To:       types.StateRendered,
		Optional: true,
	},
	StageSkipRender: {
		Name: StageSkipRender,
		From: types.StateAligned,
		To:   types.StateRenderSkipped,
	},
	StageFinish: {
		Name: StageFinish,
		From: types.StateRendered,
		To:   types.StateDone,
	},
}

// finishFromSkipped is the second edge into Done; the registry is keyed by name.
var finishFromSkipped = StageDefinition{Name: StageFinish, From: types.StateRenderSkipped, To: types.StateDone}

// Order lists the stages in execution order. Render and skip_render are alternatives.
var Order = []string{StageRepair, StageMinimize, StageAlign, StageRender, StageSkipRender, StageFinish}

// TransitionError represents a state change the item state machine does not allow
type TransitionError struct {
	From types.ItemState
	To   types.ItemState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid item transition: %s -> %s", e.From, e.To)
}

// Lookup returns the definition for a stage name.
func Lookup(name string) (StageDefinition, error) {
	def, ok := StageRegistry[name]
	if !ok {
		return StageDefinition{}, fmt.Errorf("unknown stage: %s", name)
	}
	return def, nil
}

// StageFor returns the stage that moves an item from one state to another.
func StageFor(from, to types.ItemState) (StageDefinition, bool) {
	if finishFromSkipped.From == from && finishFromSkipped.To == to {
		return finishFromSkipped, true
	}
	for _, name := range Order {
		def := StageRegistry[name]
		if def.From == from && def.To == to {
			return def, true
		}
	}
	return StageDefinition{}, false
}

// Alternative returns the stage that replaces an optional stage: the one leaving the
// same state for a different next state.
func Alternative(name string) (StageDefinition, error) {
	def, err := Lookup(name)
	if err != nil {
		return StageDefinition{}, err
	}
	if !def.Optional {
		return StageDefinition{}, fmt.Errorf("stage %s is not optional", name)
	}
	for _, other := range Order {
		alt := StageRegistry[other]
		if alt.Name != def.Name && alt.From == def.From {
			return alt, nil
		}
	}
	return StageDefinition{}, fmt.Errorf("stage %s has no alternative", name)
}

// ValidateTransition checks if an item may move from one state to another.
// Failed is reachable from any non-terminal state.
func ValidateTransition(from, to types.ItemState) error {
	if from.Terminal() {
		return &TransitionError{From: from, To: to}
	}
	if to == types.StateFailed {
		return nil
	}
	if _, ok := StageFor(from, to); !ok {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ValidateHistory checks that a recorded state history starts at Pending and only
// follows allowed transitions.
func ValidateHistory(history []types.ItemState) error {
	if len(history) == 0 {
		return fmt.Errorf("empty history")
	}
	if history[0] != types.StatePending {
		return fmt.Errorf("history starts at %s, expected %s", history[0], types.StatePending)
	}
	for i := 1; i < len(history); i++ {
		if err := ValidateTransition(history[i-1], history[i]); err != nil {
			return err
		}
	}
	return nil
}
