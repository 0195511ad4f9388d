package minimization

import (
	"fmt"

	"github.com/jonathan/protein-minimizer/internal/types"
)

// ConfigurationError represents run parameters that are invalid or incompatible with
// the structure. It is raised before any expensive work.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// MinimizationError represents a failure of the underlying engine during minimization.
// Trace holds the energies evaluated before the failure, or nil.
type MinimizationError struct {
	Identifier string
	Message    string
	Trace      *types.EnergyTrace
	Cause      error
}

func (e *MinimizationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("minimization error: %s: %s: %v", e.Identifier, e.Message, e.Cause)
	}
	return fmt.Sprintf("minimization error: %s: %s", e.Identifier, e.Message)
}

func (e *MinimizationError) Unwrap() error {
	return e.Cause
}
