package ssm

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// CoefficientMode selects how GenerateCoefficients fills a coefficient vector.
type CoefficientMode int

const (
	// Zero yields all-zero coefficients, collapsing the shape to the mean.
	Zero CoefficientMode = iota
	// Random yields i.i.d. standard-normal coefficients.
	Random
)

func (m CoefficientMode) String() string {
	switch m {
	case Zero:
		return "zero"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("CoefficientMode(%d)", int(m))
	}
}

// ParseCoefficientMode maps "zero" and "random" to their modes.
func ParseCoefficientMode(s string) (CoefficientMode, error) {
	switch s {
	case "zero", "":
		return Zero, nil
	case "random":
		return Random, nil
	default:
		return Zero, fmt.Errorf("unknown coefficient mode %q", s)
	}
}

// NormalSampler draws from N(Mean, StdDev²) with the Box–Muller transform.
type NormalSampler struct {
	Mean   float64
	StdDev float64

	rng *rand.Rand
}

// NewNormalSampler returns a standard-normal sampler. A nil rng is replaced
// by a time-seeded source.
func NewNormalSampler(rng *rand.Rand) *NormalSampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &NormalSampler{Mean: 0, StdDev: 1, rng: rng}
}

// Sample returns one draw.
func (s *NormalSampler) Sample() float64 {
	u := s.rng.Float64()
	for u == 0 { // log(0)
		u = s.rng.Float64()
	}
	v := s.rng.Float64()
	z := math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
	return z*s.StdDev + s.Mean
}

// GenerateCoefficients returns a coefficient vector of the model's mode
// count, filled according to mode. rng is only consulted for Random and may
// be nil.
func GenerateCoefficients(model *ShapeModel, mode CoefficientMode, rng *rand.Rand) []float64 {
	return generateCoefficients(model.ModeCount(), mode, rng)
}

func generateCoefficients(k int, mode CoefficientMode, rng *rand.Rand) []float64 {
	alpha := make([]float64, k)
	if mode != Random {
		return alpha
	}
	s := NewNormalSampler(rng)
	for i := range alpha {
		alpha[i] = s.Sample()
	}
	return alpha
}
