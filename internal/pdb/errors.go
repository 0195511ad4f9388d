package pdb

import "fmt"

// ParseError represents a malformed coordinate record.
type ParseError struct {
	Message string
	Line    int
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pdb parse error at line %d: %s: %v", e.Line, e.Message, e.Cause)
	}
	return fmt.Sprintf("pdb parse error at line %d: %s", e.Line, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// InputError represents a problem with the set of input files, such as duplicate identifiers.
type InputError struct {
	Message string
	Cause   error
}

func (e *InputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("input error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("input error: %s", e.Message)
}

func (e *InputError) Unwrap() error {
	return e.Cause
}
