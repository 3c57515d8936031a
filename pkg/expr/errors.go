package expr

import "errors"

var (
	// ErrNoMatch reports that the input does not belong to the requested
	// grammar, including inputs with tokens left over after a valid prefix.
	ErrNoMatch = errors.New("expression does not match grammar")

	// ErrMalformedPostfix reports a postfix sequence that does not reduce
	// to exactly one tree. It indicates a defect in an earlier stage or a
	// hand-built sequence, never bad user input.
	ErrMalformedPostfix = errors.New("malformed postfix sequence")

	// ErrUnresolvedVariable reports an evaluation attempted on a tree whose
	// variables have not all been resolved.
	ErrUnresolvedVariable = errors.New("unresolved variable")
)
