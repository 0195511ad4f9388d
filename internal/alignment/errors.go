package alignment

import "fmt"

// TopologyMismatchError is returned when reference and mobile structures do not share
// atom and residue topology. It indicates a repair or minimization defect.
type TopologyMismatchError struct {
	Message string
	Cause   error
}

func (e *TopologyMismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("topology mismatch: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("topology mismatch: %s", e.Message)
}

func (e *TopologyMismatchError) Unwrap() error {
	return e.Cause
}

// Error represents a numerical failure while superposing coordinates.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("alignment error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("alignment error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
