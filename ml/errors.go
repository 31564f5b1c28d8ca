package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch marks input whose shape does not match what the model expects.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	ErrNotTrained     = errors.New("model not trained")
	ErrUnknownKind    = errors.New("unknown model kind")
)

// LoadError is returned when a blob cannot be decoded by either codec.
type LoadError struct {
	Primary   error
	Secondary error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model: %v / %v", e.Primary, e.Secondary)
}

// Unwrap exposes both codec failures to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}

// PredictionError wraps any failure raised by the underlying model. Row is the
// zero-based batch row, or -1 for single-record predictions.
type PredictionError struct {
	Row int
	Err error
}

func (e *PredictionError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("model prediction failed at row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("model prediction failed: %v", e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
