package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownColumn is matched by every UnknownColumnError.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNameCollision is matched by every NameCollisionError.
	ErrNameCollision = errors.New("name collision")
	// ErrEvaluation is matched by every EvaluationError.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrIndexOutOfRange is reported by At when an array is too short.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidBinning is returned when booking a histogram with a bad axis.
	ErrInvalidBinning = errors.New("invalid binning")
	// ErrForeignHandle is returned when a handle or view belongs to another graph.
	ErrForeignHandle = errors.New("handle belongs to another graph")
)

// UnknownColumnError reports a reference to a column name that was never
// defined and is not part of the source schema.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Name)
}

func (e *UnknownColumnError) Unwrap() error { return ErrUnknownColumn }

// NameCollisionError reports a Define on a name that is already bound, or two
// outputs that would share one name.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name %q is already in use", e.Name)
}

func (e *NameCollisionError) Unwrap() error { return ErrNameCollision }

// TypeError reports a column requested with a Go type other than its own.
type TypeError struct {
	Name string
	Want string
	Have string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("column %q has type %s, requested %s", e.Name, e.Have, e.Want)
}

// EvaluationError reports a row on which a column expression failed. Row is
// the global event index in the source.
type EvaluationError struct {
	Column string
	Row    int64
	Batch  int
	cause  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q at row %d (batch %d): %v", e.Column, e.Row, e.Batch, e.cause)
}

// Unwrap exposes both the sentinel and the underlying failure so callers can
// match either with errors.Is / errors.As.
func (e *EvaluationError) Unwrap() []error { return []error{ErrEvaluation, e.cause} }
