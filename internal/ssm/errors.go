package ssm

import "errors"

var (
	// ErrDimensionMismatch is returned when mean, basis, variance, coefficient
	// or shape lengths disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidModel is returned when model arrays contain NaN, Inf or a
	// negative variance.
	ErrInvalidModel = errors.New("invalid model")

	// ErrSingularBasis is returned when the scaled basis has numerically zero
	// rank and no pseudo-inverse can be formed.
	ErrSingularBasis = errors.New("singular basis")

	// ErrSingularSystem is returned when the posterior system matrix cannot be
	// inverted to acceptable tolerance. Retrying against
	// ShapeModel.Regularized is the documented recovery.
	ErrSingularSystem = errors.New("singular posterior system")

	// ErrInvalidObservation is returned for observation sets with duplicate
	// or out-of-range indices, partial xyz triples or non-finite values.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrIndexOutOfRange is returned when a coefficient edit addresses a mode
	// the model does not have.
	ErrIndexOutOfRange = errors.New("coefficient index out of range")
)
