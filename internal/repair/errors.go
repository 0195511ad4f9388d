// Package repair turns raw structure files into complete structures ready for minimization.
package repair

import "fmt"

// RepairError represents an input that could not be made structurally complete.
type RepairError struct {
	Identifier string
	Message    string
	Output     string
	Cause      error
}

func (e *RepairError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("repair error: %s: %s: %v", e.Identifier, e.Message, e.Cause)
	}
	return fmt.Sprintf("repair error: %s: %s", e.Identifier, e.Message)
}

func (e *RepairError) Unwrap() error {
	return e.Cause
}
