package correction

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfDomain is matched by every OutOfDomainError.
	ErrOutOfDomain = errors.New("correction: input out of domain")
	// ErrUnknownTable is returned when a set has no table of the given name.
	ErrUnknownTable = errors.New("correction: unknown table")
	// ErrUnknownEra is returned when a (year, era) pair has no payload.
	ErrUnknownEra = errors.New("correction: unknown era")
	// ErrArity is returned when a table is evaluated with the wrong number of inputs.
	ErrArity = errors.New("correction: wrong number of inputs")
	// ErrLengthMismatch is returned when per-object arrays differ in length.
	ErrLengthMismatch = errors.New("correction: array length mismatch")
)

// OutOfDomainError reports a lookup whose input falls outside the edges of
// one table axis.
type OutOfDomainError struct {
	Table string
	Input string
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfDomainError) Error() string {
	return fmt.Sprintf("correction %q: %s=%g outside [%g, %g]", e.Table, e.Input, e.Value, e.Min, e.Max)
}

func (e *OutOfDomainError) Unwrap() error { return ErrOutOfDomain }
