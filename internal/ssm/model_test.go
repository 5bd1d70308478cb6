package ssm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// twoPointModel is two points at the origin with modes moving point 0 along
// x and y respectively.
func twoPointModel(t *testing.T, variance []float64) *ShapeModel {
	t.Helper()
	basis := []float64{
		1, 0,
		0, 1,
		0, 0,
		0, 0,
		0, 0,
		0, 0,
	}
	m, err := Load(make([]float64, 6), basis, 6, 2, variance)
	require.NoError(t, err)
	return m
}

func TestLoad_ScalesBasisByStdDev(t *testing.T) {
	t.Parallel()

	basis := []float64{
		1, 1,
		2, 0,
		0, 3,
	}
	m, err := Load([]float64{1, 2, 3}, basis, 3, 2, []float64{4, 9})
	require.NoError(t, err)

	want := mat.NewDense(3, 2, []float64{
		2, 3,
		4, 0,
		0, 9,
	})
	assert.True(t, mat.Equal(want, m.BasisScaled()), "scaled basis:\n%v", mat.Formatted(m.BasisScaled()))
	assert.Equal(t, []float64{2, 3}, m.StdDev())
	assert.Equal(t, 1, m.PointCount())
	assert.Equal(t, 2, m.ModeCount())
	assert.Equal(t, 3, m.Dim())
	assert.Equal(t, [3]float64{1, 2, 3}, m.Point(0))
}

func TestLoad_CopiesInputs(t *testing.T) {
	t.Parallel()

	mean := []float64{1, 2, 3}
	variance := []float64{1}
	m, err := Load(mean, []float64{1, 0, 0}, 3, 1, variance)
	require.NoError(t, err)

	mean[0] = 100
	variance[0] = 100
	assert.Equal(t, []float64{1, 2, 3}, m.Mean())
	assert.Equal(t, []float64{1}, m.Variance())

	got := m.Mean()
	got[1] = -5
	assert.Equal(t, 2.0, m.Mean()[1], "Mean must return a copy")
}

func TestLoad_DimensionMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mean     []float64
		basis    []float64
		rows     int
		cols     int
		variance []float64
	}{
		{"empty mean", nil, nil, 0, 1, []float64{1}},
		{"mean not xyz", []float64{1, 2}, []float64{1, 1}, 2, 1, []float64{1}},
		{"rows differ from mean", []float64{0, 0, 0}, []float64{1, 0, 0, 0}, 4, 1, []float64{1}},
		{"cols differ from variance", []float64{0, 0, 0}, []float64{1, 0, 0}, 3, 1, []float64{1, 1}},
		{"zero modes", []float64{0, 0, 0}, nil, 3, 0, nil},
		{"flat basis too short", []float64{0, 0, 0}, []float64{1, 0}, 3, 1, []float64{1}},
		{"flat basis too long", []float64{0, 0, 0}, []float64{1, 0, 0, 0, 0, 0, 0}, 3, 2, []float64{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.mean, tt.basis, tt.rows, tt.cols, tt.variance)
			assert.ErrorIs(t, err, ErrDimensionMismatch)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	_, err := Load([]float64{0, 0, 0}, []float64{1, 0, 0}, 3, 1, []float64{-1})
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = Load([]float64{0, math.NaN(), 0}, []float64{1, 0, 0}, 3, 1, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = Load([]float64{0, 0, 0}, []float64{1, math.Inf(1), 0}, 3, 1, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestRegularized(t *testing.T) {
	t.Parallel()

	m := twoPointModel(t, []float64{1, 0})
	r := m.Regularized(1e-3)

	assert.Equal(t, []float64{1, 1e-3}, r.Variance())
	assert.Equal(t, []float64{1, 0}, m.Variance(), "original model must be unchanged")
	assert.Same(t, m.basis, r.basis)
	assert.Equal(t, 1e-3, r.noiseFloor)
	assert.Zero(t, m.noiseFloor)
}

func TestExplainedVariance(t *testing.T) {
	t.Parallel()

	m := twoPointModel(t, []float64{3, 1})
	frac, cum := m.ExplainedVariance()
	if diff := cmp.Diff([]float64{0.75, 0.25}, frac, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("fraction mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.75, 1}, cum, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("cumulative mismatch (-want +got):\n%s", diff)
	}

	zero := twoPointModel(t, []float64{0, 0})
	frac, cum = zero.ExplainedVariance()
	assert.Equal(t, []float64{0, 0}, frac)
	assert.Equal(t, []float64{0, 0}, cum)
}

func TestSynthetic_ModesAreOrthogonal(t *testing.T) {
	t.Parallel()

	m, err := Synthetic(40, 6, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, 40, m.PointCount())
	assert.Equal(t, 6, m.ModeCount())

	// QᵀQ = diag(variance) for an orthonormal raw basis.
	var gram mat.Dense
	gram.Mul(m.BasisScaled().T(), m.BasisScaled())
	v := m.Variance()
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			want := 0.0
			if i == j {
				want = v[i]
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-12, "gram[%d][%d]", i, j)
		}
	}
	for i := 1; i < len(v); i++ {
		assert.Less(t, v[i], v[i-1])
	}

	_, err = Synthetic(1, 4, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestData_ReloadsToSameModel(t *testing.T) {
	m := twoPointModel(t, []float64{4, 1})

	d := m.Data()
	assert.Equal(t, 6, d.Rows)
	assert.Equal(t, 2, d.Cols)
	assert.Equal(t, []float64{4, 1}, d.Variance)
	// Data carries the unscaled basis.
	assert.Equal(t, 1.0, d.Basis[0])

	again, err := LoadData(d)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(m.BasisScaled(), again.BasisScaled(), 1e-12))

	// A regularized model still saves the variance its basis was scaled by.
	r := m.Regularized(2).Data()
	assert.Equal(t, []float64{4, 1}, r.Variance)
	again, err = LoadData(r)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(m.BasisScaled(), again.BasisScaled(), 1e-12))
}
