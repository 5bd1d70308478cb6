package ssm

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ShapeModel is the learned generative description of a shape family:
//
//	shape = mean + basisScaled · alpha,  alpha ~ N(0, I)
//
// Columns of basisScaled are the principal deformation modes multiplied by
// their standard deviation, so a unit coefficient is one standard deviation
// of that mode. A ShapeModel is never mutated after Load.
type ShapeModel struct {
	mean     []float64  // 3N, interleaved x,y,z per point
	basis    *mat.Dense // 3N × K, columns scaled by stddev
	raw      []float64  // unscaled basis as loaded, row-major
	variance []float64  // K, raw per-mode variance
	loaded   []float64  // K, variance as loaded; basis is scaled by its sqrt
	stddev   []float64  // K

	// noiseFloor is the smallest noise variance NoiseRegularizer may use.
	// Zero unless raised through Regularized.
	noiseFloor float64

	// factors caches the SVD of basis for CoefficientsFromShape. It is
	// shared with models derived through Regularized.
	factors *basisFactors
}

type basisFactors struct {
	once sync.Once
	svd  mat.SVD
	ok   bool
}

// Load builds a ShapeModel from plain arrays. basisFlat holds the unscaled
// basis in row-major order with the declared shape rows × cols; rows must
// equal len(mean) and cols must equal len(variance). Any layout or transpose
// correction is the loader's job.
func Load(mean, basisFlat []float64, rows, cols int, variance []float64) (*ShapeModel, error) {
	switch {
	case len(mean) == 0 || len(mean)%3 != 0:
		return nil, fmt.Errorf("%w: mean length %d is not a positive multiple of 3", ErrDimensionMismatch, len(mean))
	case rows != len(mean):
		return nil, fmt.Errorf("%w: basis has %d rows, mean has %d entries", ErrDimensionMismatch, rows, len(mean))
	case cols <= 0 || cols != len(variance):
		return nil, fmt.Errorf("%w: basis has %d columns, variance has %d entries", ErrDimensionMismatch, cols, len(variance))
	case len(basisFlat) != rows*cols:
		return nil, fmt.Errorf("%w: basis has %d values, want %d×%d=%d", ErrDimensionMismatch, len(basisFlat), rows, cols, rows*cols)
	}

	if i, ok := firstNonFinite(mean); !ok {
		return nil, fmt.Errorf("%w: mean[%d] is not finite", ErrInvalidModel, i)
	}
	if i, ok := firstNonFinite(basisFlat); !ok {
		return nil, fmt.Errorf("%w: basis[%d] is not finite", ErrInvalidModel, i)
	}
	stddev := make([]float64, cols)
	for j, v := range variance {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: variance[%d]=%g", ErrInvalidModel, j, v)
		}
		stddev[j] = math.Sqrt(v)
	}

	scaled := make([]float64, len(basisFlat))
	for i := 0; i < rows; i++ {
		row := basisFlat[i*cols : (i+1)*cols]
		floats.MulTo(scaled[i*cols:(i+1)*cols], row, stddev)
	}

	return &ShapeModel{
		mean:     append([]float64(nil), mean...),
		basis:    mat.NewDense(rows, cols, scaled),
		raw:      append([]float64(nil), basisFlat...),
		variance: append([]float64(nil), variance...),
		loaded:   append([]float64(nil), variance...),
		stddev:   stddev,
		factors:  &basisFactors{},
	}, nil
}

// ModelData is the plain-array form of a ShapeModel accepted by Load, as
// exchanged with storage and over the wire.
type ModelData struct {
	Mean     []float64 `json:"mean"`
	Basis    []float64 `json:"basis"` // unscaled, row-major Rows × Cols
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	Variance []float64 `json:"variance"`
}

// LoadData is Load applied to d.
func LoadData(d ModelData) (*ShapeModel, error) {
	return Load(d.Mean, d.Basis, d.Rows, d.Cols, d.Variance)
}

// Data returns a copy of the arrays the model was loaded from. Models
// derived through Regularized report the variance of the model they were
// derived from, so LoadData(m.Data()) rebuilds the same scaled basis.
func (m *ShapeModel) Data() ModelData {
	return ModelData{
		Mean:     m.Mean(),
		Basis:    append([]float64(nil), m.raw...),
		Rows:     len(m.mean),
		Cols:     len(m.variance),
		Variance: append([]float64(nil), m.loaded...),
	}
}

func firstNonFinite(s []float64) (int, bool) {
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i, false
		}
	}
	return 0, true
}

// Mean returns a copy of the mean shape.
func (m *ShapeModel) Mean() []float64 { return append([]float64(nil), m.mean...) }

// Variance returns a copy of the per-mode variance.
func (m *ShapeModel) Variance() []float64 { return append([]float64(nil), m.variance...) }

// StdDev returns a copy of the per-mode standard deviation.
func (m *ShapeModel) StdDev() []float64 { return append([]float64(nil), m.stddev...) }

// BasisScaled returns the (3N × K) scaled basis. The returned matrix is
// shared with the model and must not be modified.
func (m *ShapeModel) BasisScaled() mat.Matrix { return m.basis }

// Dim returns 3N, the length of a shape vector.
func (m *ShapeModel) Dim() int { return len(m.mean) }

// PointCount returns N.
func (m *ShapeModel) PointCount() int { return len(m.mean) / 3 }

// ModeCount returns K.
func (m *ShapeModel) ModeCount() int { return len(m.variance) }

// Point returns the mean position of point i.
func (m *ShapeModel) Point(i int) [3]float64 {
	return [3]float64{m.mean[3*i], m.mean[3*i+1], m.mean[3*i+2]}
}

// Regularized returns a model sharing this model's scaled basis whose
// variance has every entry below eps raised to eps and whose noise floor
// is at least eps, so the posterior diagonal is bounded away from zero
// under either Regularizer. It is the caller-side recovery for
// ErrSingularSystem and is never applied implicitly.
func (m *ShapeModel) Regularized(eps float64) *ShapeModel {
	variance := m.Variance()
	for i, v := range variance {
		if v < eps {
			variance[i] = eps
		}
	}
	return &ShapeModel{
		mean:       m.mean,
		basis:      m.basis,
		raw:        m.raw,
		variance:   variance,
		loaded:     m.loaded,
		stddev:     m.stddev,
		noiseFloor: math.Max(m.noiseFloor, eps),
		factors:    m.factors,
	}
}

// ExplainedVariance returns the fraction of total variance carried by each
// mode and the running cumulative fraction. Both are zero for a model whose
// variance sums to zero.
func (m *ShapeModel) ExplainedVariance() (fraction, cumulative []float64) {
	fraction = make([]float64, len(m.variance))
	cumulative = make([]float64, len(m.variance))
	total := floats.Sum(m.variance)
	if total <= 0 {
		return fraction, cumulative
	}
	floats.ScaleTo(fraction, 1/total, m.variance)
	floats.CumSum(cumulative, fraction)
	return fraction, cumulative
}

// svd returns the thin SVD of the scaled basis, factorising on first use.
func (m *ShapeModel) svd() (*mat.SVD, bool) {
	f := m.factors
	f.once.Do(func() {
		f.ok = f.svd.Factorize(m.basis, mat.SVDThin)
	})
	return &f.svd, f.ok
}
