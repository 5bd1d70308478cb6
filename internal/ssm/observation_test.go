package ssm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObservationSet_SortsByIndex(t *testing.T) {
	t.Parallel()

	obs, err := NewObservationSet(9, []int{7, 6, 8, 1, 0, 2}, []float64{70, 60, 80, 10, 0, 20})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 6, 7, 8}, obs.Indices())
	assert.Equal(t, []float64{0, 10, 20, 60, 70, 80}, obs.Values())
	assert.Equal(t, []int{0, 2}, obs.Points())
	assert.Equal(t, 6, obs.Len())
	assert.Equal(t, 9, obs.Dim())
}

func TestNewObservationSet_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dim     int
		indices []int
		values  []float64
		want    error
	}{
		{"length mismatch", 6, []int{0, 1, 2}, []float64{1, 2}, ErrInvalidObservation},
		{"partial triple", 6, []int{0, 1}, []float64{1, 2}, ErrInvalidObservation},
		{"triple spans two points", 6, []int{1, 2, 3}, []float64{1, 2, 3}, ErrInvalidObservation},
		{"duplicate index", 6, []int{0, 1, 1}, []float64{1, 2, 3}, ErrInvalidObservation},
		{"negative index", 6, []int{-1, 0, 1}, []float64{1, 2, 3}, ErrInvalidObservation},
		{"index past end", 6, []int{6, 7, 8}, []float64{1, 2, 3}, ErrInvalidObservation},
		{"NaN value", 6, []int{0, 1, 2}, []float64{1, math.NaN(), 3}, ErrInvalidObservation},
		{"bad dimension", 7, nil, nil, ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewObservationSet(tt.dim, tt.indices, tt.values)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestObservePoints(t *testing.T) {
	t.Parallel()

	obs, err := ObservePoints(9, map[int][3]float64{2: {7, 8, 9}, 0: {1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 6, 7, 8}, obs.Indices())
	assert.Equal(t, []float64{1, 2, 3, 7, 8, 9}, obs.Values())

	_, err = ObservePoints(9, map[int][3]float64{3: {0, 0, 0}})
	assert.ErrorIs(t, err, ErrInvalidObservation)
}

func TestDiffObservations(t *testing.T) {
	t.Parallel()

	original := []float64{
		0, 0, 0,
		1, 1, 1,
		2, 2, 2,
		3, 3, 3,
	}
	current := append([]float64(nil), original...)
	current[4] = 5 // only y of point 1 moved

	obs, err := DiffObservations(current, original, []int{3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, obs.Points())
	assert.Equal(t, []int{3, 4, 5, 9, 10, 11}, obs.Indices())
	assert.Equal(t, []float64{1, 5, 1, 3, 3, 3}, obs.Values())

	// A pinned point that also moved is observed once.
	obs, err = DiffObservations(current, original, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, obs.Points())

	unchanged, err := DiffObservations(original, original, nil)
	require.NoError(t, err)
	assert.Zero(t, unchanged.Len())

	_, err = DiffObservations(current, original[:9], nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = DiffObservations(current, original, []int{4})
	assert.ErrorIs(t, err, ErrInvalidObservation)
}

func TestObservationSet_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	obs, err := ObservePoints(6, map[int][3]float64{1: {4, 5, 6}})
	require.NoError(t, err)
	c := obs.Clone()

	c.values[0] = -1
	assert.Equal(t, []float64{4, 5, 6}, obs.Values())
	assert.Equal(t, obs.Dim(), c.Dim())
}
