package convert

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyOutput means a strategy ran but left a missing or zero-byte file.
	ErrEmptyOutput = errors.New("conversion produced no output")

	// ErrNoViableStrategy means every strategy in the chain failed.
	ErrNoViableStrategy = errors.New("no viable conversion strategy")

	// ErrInvalidInput means the input is missing or empty.
	ErrInvalidInput = errors.New("invalid input file")

	// ErrNotSilk means the input lacks a SILK header, so in-process decoding is skipped.
	ErrNotSilk = errors.New("input is not SILK encoded")
)

// Attempt records one failed strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// ExhaustedError is returned when no strategy produced a valid output.
// It matches both ErrNoViableStrategy and the last strategy's error.
type ExhaustedError struct {
	Attempts []Attempt
}

// Last returns the error of the final attempt.
func (e *ExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) Error() string {
	last := e.Last()
	if last == nil {
		return ErrNoViableStrategy.Error()
	}
	if len(e.Attempts) == 1 && e.Attempts[0].Strategy == "" {
		return fmt.Sprintf("%s: %v", ErrNoViableStrategy, last)
	}
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Strategy)
	}
	return fmt.Sprintf("%s (tried %s): %v", ErrNoViableStrategy, strings.Join(names, ", "), last)
}

func (e *ExhaustedError) Unwrap() []error {
	if last := e.Last(); last != nil {
		return []error{ErrNoViableStrategy, last}
	}
	return []error{ErrNoViableStrategy}
}
