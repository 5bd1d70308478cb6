package ssm

import (
	"fmt"
	"math/rand"
)

// ShapeInstance is one member of a model's shape family, represented by its
// coefficient vector. The shape itself is always derived through Evaluate.
// An instance is owned by a single caller.
type ShapeInstance struct {
	alpha []float64
}

// NewInstance returns the mean-shape instance (all-zero coefficients).
func NewInstance(model *ShapeModel) *ShapeInstance {
	return &ShapeInstance{alpha: make([]float64, model.ModeCount())}
}

// Coefficients returns a copy of the coefficient vector.
func (in *ShapeInstance) Coefficients() []float64 {
	return append([]float64(nil), in.alpha...)
}

// ModeCount returns K.
func (in *ShapeInstance) ModeCount() int { return len(in.alpha) }

// SetCoefficient sets mode index to value. value is not clamped.
func (in *ShapeInstance) SetCoefficient(index int, value float64) error {
	if index < 0 || index >= len(in.alpha) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(in.alpha))
	}
	in.alpha[index] = value
	return nil
}

// Assign replaces the whole coefficient vector.
func (in *ShapeInstance) Assign(alpha []float64) error {
	if len(alpha) != len(in.alpha) {
		return fmt.Errorf("%w: %d coefficients for a %d-mode instance", ErrDimensionMismatch, len(alpha), len(in.alpha))
	}
	copy(in.alpha, alpha)
	return nil
}

// Reset zeroes every coefficient.
func (in *ShapeInstance) Reset() {
	copy(in.alpha, generateCoefficients(len(in.alpha), Zero, nil))
}

// Randomize draws every coefficient from N(0, 1).
func (in *ShapeInstance) Randomize(rng *rand.Rand) {
	copy(in.alpha, generateCoefficients(len(in.alpha), Random, rng))
}

// Shape evaluates the instance against model.
func (in *ShapeInstance) Shape(model *ShapeModel) ([]float64, error) {
	return Evaluate(model, in.alpha)
}
