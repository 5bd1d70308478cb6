package ssm

import (
	"fmt"
	"math"
	"sort"
)

// ObservationSet is a set of known coordinate values in the 3N-dimensional
// shape space. Indices are sorted, unique, in range, and always cover whole
// points: once any of x, y, z of a point is observed, all three are.
//
// The zero value is an empty set, for which ComputePosterior is a no-op.
type ObservationSet struct {
	dim     int
	indices []int
	values  []float64
}

// NewObservationSet validates indices and values against a shape of length
// dim and returns them sorted by index.
func NewObservationSet(dim int, indices []int, values []float64) (ObservationSet, error) {
	if len(indices) != len(values) {
		return ObservationSet{}, fmt.Errorf("%w: %d indices but %d values", ErrInvalidObservation, len(indices), len(values))
	}
	if dim <= 0 || dim%3 != 0 {
		return ObservationSet{}, fmt.Errorf("%w: shape length %d is not a positive multiple of 3", ErrDimensionMismatch, dim)
	}

	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return indices[order[a]] < indices[order[b]] })

	obs := ObservationSet{
		dim:     dim,
		indices: make([]int, len(indices)),
		values:  make([]float64, len(values)),
	}
	for i, o := range order {
		idx, v := indices[o], values[o]
		if idx < 0 || idx >= dim {
			return ObservationSet{}, fmt.Errorf("%w: index %d outside [0,%d)", ErrInvalidObservation, idx, dim)
		}
		if i > 0 && obs.indices[i-1] == idx {
			return ObservationSet{}, fmt.Errorf("%w: duplicate index %d", ErrInvalidObservation, idx)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ObservationSet{}, fmt.Errorf("%w: value at index %d is not finite", ErrInvalidObservation, idx)
		}
		obs.indices[i] = idx
		obs.values[i] = v
	}

	if len(obs.indices)%3 != 0 {
		return ObservationSet{}, fmt.Errorf("%w: %d indices do not form whole points", ErrInvalidObservation, len(obs.indices))
	}
	for i := 0; i < len(obs.indices); i += 3 {
		x := obs.indices[i]
		if x%3 != 0 || obs.indices[i+1] != x+1 || obs.indices[i+2] != x+2 {
			return ObservationSet{}, fmt.Errorf("%w: point %d is missing coordinates", ErrInvalidObservation, x/3)
		}
	}
	return obs, nil
}

// ObservePoints builds an ObservationSet from point index → position pairs.
func ObservePoints(dim int, points map[int][3]float64) (ObservationSet, error) {
	indices := make([]int, 0, 3*len(points))
	values := make([]float64, 0, 3*len(points))
	for p, pos := range points {
		if p < 0 || 3*p >= dim {
			return ObservationSet{}, fmt.Errorf("%w: point %d outside [0,%d)", ErrInvalidObservation, p, dim/3)
		}
		indices = append(indices, 3*p, 3*p+1, 3*p+2)
		values = append(values, pos[0], pos[1], pos[2])
	}
	return NewObservationSet(dim, indices, values)
}

// DiffObservations observes every point whose position in current differs
// from original in any coordinate, plus every pinned point, at its current
// position.
func DiffObservations(current, original []float64, pinned []int) (ObservationSet, error) {
	if len(current) != len(original) {
		return ObservationSet{}, fmt.Errorf("%w: current has %d values, original has %d", ErrDimensionMismatch, len(current), len(original))
	}
	dim := len(current)
	if dim == 0 || dim%3 != 0 {
		return ObservationSet{}, fmt.Errorf("%w: shape length %d is not a positive multiple of 3", ErrDimensionMismatch, dim)
	}

	points := make(map[int][3]float64)
	for i := 0; i < dim; i += 3 {
		if current[i] != original[i] || current[i+1] != original[i+1] || current[i+2] != original[i+2] {
			points[i/3] = [3]float64{current[i], current[i+1], current[i+2]}
		}
	}
	for _, p := range pinned {
		if p < 0 || 3*p >= dim {
			return ObservationSet{}, fmt.Errorf("%w: pinned point %d outside [0,%d)", ErrInvalidObservation, p, dim/3)
		}
		points[p] = [3]float64{current[3*p], current[3*p+1], current[3*p+2]}
	}
	return ObservePoints(dim, points)
}

// Len returns the number of observed coordinates, always a multiple of 3.
func (o ObservationSet) Len() int { return len(o.indices) }

// Dim returns the shape length the set was validated against.
func (o ObservationSet) Dim() int { return o.dim }

// Indices returns a copy of the observed coordinate indices.
func (o ObservationSet) Indices() []int { return append([]int(nil), o.indices...) }

// Values returns a copy of the observed values.
func (o ObservationSet) Values() []float64 { return append([]float64(nil), o.values...) }

// Points returns the indices of the observed points.
func (o ObservationSet) Points() []int {
	points := make([]int, 0, len(o.indices)/3)
	for i := 0; i < len(o.indices); i += 3 {
		points = append(points, o.indices[i]/3)
	}
	return points
}

// Clone returns a deep copy, suitable for handing to another goroutine.
func (o ObservationSet) Clone() ObservationSet {
	return ObservationSet{dim: o.dim, indices: o.Indices(), values: o.Values()}
}
