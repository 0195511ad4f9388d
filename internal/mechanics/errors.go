package mechanics

import (
	"fmt"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// MechanicsError represents a failure building or minimizing a system. Trace holds
// whatever energies were evaluated before the failure, or nil.
type MechanicsError struct {
	Message string
	Output  string
	Trace   *types.EnergyTrace
	Cause   error
}

func (e *MechanicsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mechanics error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("mechanics error: %s", e.Message)
}

func (e *MechanicsError) Unwrap() error {
	return e.Cause
}

// SettingsError represents a run configuration the mechanics backend cannot express.
type SettingsError struct {
	Message string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("settings error: %s", e.Message)
}
