package ssm

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Synthetic builds a model whose mean places points evenly on the unit
// sphere. The basis is a random orthonormal 3N × modes matrix and the
// variance of mode i is 0.01/(i+1)². 3*points must be at least modes.
func Synthetic(points, modes int, rng *rand.Rand) (*ShapeModel, error) {
	if points <= 0 || modes <= 0 || 3*points < modes {
		return nil, fmt.Errorf("%w: cannot build %d modes over %d points", ErrDimensionMismatch, modes, points)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	dim := 3 * points

	// Fibonacci sphere.
	mean := make([]float64, dim)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < points; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(points)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		mean[3*i] = r * math.Cos(theta)
		mean[3*i+1] = y
		mean[3*i+2] = r * math.Sin(theta)
	}

	raw := mat.NewDense(dim, modes, nil)
	s := NewNormalSampler(rng)
	for i := 0; i < dim; i++ {
		for j := 0; j < modes; j++ {
			raw.Set(i, j, s.Sample())
		}
	}
	var svd mat.SVD
	if !svd.Factorize(raw, mat.SVDThin) {
		return nil, fmt.Errorf("%w: random basis did not factorise", ErrSingularBasis)
	}
	var u mat.Dense
	svd.UTo(&u)

	variance := make([]float64, modes)
	for j := range variance {
		variance[j] = 0.01 / float64((j+1)*(j+1))
	}

	basis := make([]float64, 0, dim*modes)
	for i := 0; i < dim; i++ {
		basis = append(basis, u.RawRowView(i)...)
	}
	return Load(mean, basis, dim, modes, variance)
}
