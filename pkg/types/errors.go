package types

import (
	"fmt"
	"strings"
)

// Error tag constants for evaluation failures.
const (
	TagTypeError          = "TypeError"
	TagZeroDivisionError  = "ZeroDivisionError"
	TagUnresolvedVariable = "UnresolvedVariable"
)

// EvalError is an evaluation failure with a message and classification tags.
// It is returned instead of a partial result; the caller may discard the
// expression and retry with different input.
type EvalError struct {
	Message string
	Tags    []string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("%s (tags=[%s])", e.Message, strings.Join(e.Tags, ", "))
}

// HasTag returns true if the error has the specified tag.
func (e *EvalError) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NewTypeError creates a TypeError for an illegal operand combination.
func NewTypeError(msg string) *EvalError {
	return &EvalError{Message: msg, Tags: []string{TagTypeError}}
}

// NewZeroDivisionError creates a ZeroDivisionError for the given operator.
func NewZeroDivisionError(op string) *EvalError {
	return &EvalError{Message: fmt.Sprintf("%s by zero", op), Tags: []string{TagZeroDivisionError}}
}
