package dynamo

import "errors"

// Domain errors for constraint solving and stepping.
var (
	// ErrInvalidState indicates a state vector with invalid dimensions or values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrSingularSystem indicates the reduced mass matrix could not be factored.
	ErrSingularSystem = errors.New("dynamo: singular or indefinite system")

	// ErrStepTooSmall indicates step retries shrank the step below the minimum.
	ErrStepTooSmall = errors.New("dynamo: step size below minimum after retries")

	// ErrStateMismatch indicates a snapshot taken from a different world layout.
	ErrStateMismatch = errors.New("dynamo: snapshot does not match world layout")

	// ErrDimensionMismatch indicates vectors whose sizes disagree with the model.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and model")

	// ErrContextCanceled indicates the run was interrupted.
	ErrContextCanceled = errors.New("dynamo: simulation canceled by context")
)

// SolveError wraps a solver failure with the step it occurred in.
type SolveError struct {
	Mode    string
	Step    int
	Time    float64
	Wrapped error
}

func (e *SolveError) Error() string {
	return e.Mode + ": " + e.Wrapped.Error()
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}
