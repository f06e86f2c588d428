package model

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", Err...) and
// classify with errors.Is. Validation and immutability violations are
// rejected synchronously and never partially committed.
var (
	// ErrValidation marks malformed or incomplete input, rejected before
	// any state change.
	ErrValidation = errors.New("validation error")

	// ErrImmutableField marks an attempted mutation of sealed content
	// outside the patch log.
	ErrImmutableField = errors.New("immutable field")

	// ErrNotFound marks a reference to an unknown episode, drift signal,
	// patch, or graph node.
	ErrNotFound = errors.New("not found")

	// ErrChainIntegrity marks a recomputed hash that does not match the
	// stored hash. Surfaced, never silently repaired.
	ErrChainIntegrity = errors.New("chain integrity violation")

	// ErrDuplicate marks a submission reusing an existing record ID.
	ErrDuplicate = errors.New("duplicate record")
)
