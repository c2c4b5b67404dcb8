package model

import (
	"errors"
	"fmt"
)

// GridMismatchError reports that the shaking grid does not overlap a
// reference grid. Fatal for the event.
type GridMismatchError struct {
	Grid string
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("grid mismatch: shaking grid has no overlap with %s grid", e.Grid)
}

// InsufficientDataError reports missing calibration for one model and one
// country. The combiner treats it as an abstention.
type InsufficientDataError struct {
	Model   string
	Country int
	Reason  string
}

func (e *InsufficientDataError) Error() string {
	if e.Country == 0 {
		return fmt.Sprintf("insufficient data: model %s: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("insufficient data: model %s, country %d: %s", e.Model, e.Country, e.Reason)
}

// Abstention converts the error into its diagnostic record.
func (e *InsufficientDataError) Abstention() Abstention {
	return Abstention{Model: e.Model, Country: e.Country, Reason: e.Reason}
}

// NoModelsAvailableError reports that every model abstained.
type NoModelsAvailableError struct {
	Kind LossKind
}

func (e *NoModelsAvailableError) Error() string {
	return fmt.Sprintf("no models available for %s estimate", e.Kind)
}

// InvariantViolationError reports a failed internal consistency check.
// It indicates a programming defect and is never corrected silently.
type InvariantViolationError struct {
	Check  string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s: %s", e.Check, e.Detail)
}

// EventError attaches the event identity to a fatal per-event failure.
type EventError struct {
	EventID string
	Err     error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event %s: %v", e.EventID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// IsAbstention reports whether err (or any error in its chain) is an
// InsufficientDataError.
func IsAbstention(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}
