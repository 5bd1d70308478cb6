package ssm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// machineEpsilon is the float64 unit roundoff used to derive default
// pseudo-inverse tolerances.
const machineEpsilon = 0x1p-52

// Defaults for SolverOptions zero values.
const (
	DefaultNoiseVariance = 1e-6
	DefaultMinRCond      = 1e-12
)

// Regularizer selects the diagonal term added to Q_gᵀQ_g in the posterior
// system matrix.
type Regularizer int

const (
	// NoiseRegularizer adds σ²·I, σ² being SolverOptions.NoiseVariance: the
	// posterior of N(0, I) coefficients under isotropic Gaussian observation
	// noise. Small σ² reproduces observations closely.
	NoiseRegularizer Regularizer = iota
	// ModeVarianceRegularizer adds diag(variance) of the model. Hard zeros in
	// the variance can make the system singular; see ShapeModel.Regularized.
	ModeVarianceRegularizer
)

func (r Regularizer) String() string {
	switch r {
	case NoiseRegularizer:
		return "noise"
	case ModeVarianceRegularizer:
		return "mode_variance"
	default:
		return fmt.Sprintf("Regularizer(%d)", int(r))
	}
}

// ParseRegularizer maps "noise" and "mode_variance" to their regularizers.
func ParseRegularizer(s string) (Regularizer, error) {
	switch s {
	case "noise", "":
		return NoiseRegularizer, nil
	case "mode_variance":
		return ModeVarianceRegularizer, nil
	default:
		return NoiseRegularizer, fmt.Errorf("unknown regularizer %q", s)
	}
}

// SolverOptions tunes the numerical tolerances of the solver. The zero value
// selects the defaults.
type SolverOptions struct {
	Regularizer Regularizer

	// NoiseVariance is σ² for NoiseRegularizer. Zero selects
	// DefaultNoiseVariance; a negative value means exactly zero noise.
	NoiseVariance float64

	// MinRCond is the smallest accepted reciprocal condition number of the
	// posterior system. Zero selects DefaultMinRCond.
	MinRCond float64

	// PinvRCond is the relative singular value cutoff for the pseudo-inverse.
	// Zero selects max(3N, K)·ε.
	PinvRCond float64
}

func (o SolverOptions) noiseVariance() float64 {
	switch {
	case o.NoiseVariance < 0:
		return 0
	case o.NoiseVariance == 0:
		return DefaultNoiseVariance
	default:
		return o.NoiseVariance
	}
}

func (o SolverOptions) minRCond() float64 {
	if o.MinRCond <= 0 {
		return DefaultMinRCond
	}
	return o.MinRCond
}

// Posterior is the result of conditioning a model on an ObservationSet.
type Posterior struct {
	Shape        []float64 // posterior mean shape, 3N
	Coefficients []float64 // posterior mean coefficients, K
	Points       int       // number of observed points
	RCond        float64   // reciprocal condition number of the system matrix
}

// Evaluate returns mean + basisScaled·alpha.
func Evaluate(model *ShapeModel, alpha []float64) ([]float64, error) {
	if len(alpha) != model.ModeCount() {
		return nil, fmt.Errorf("%w: %d coefficients for a %d-mode model", ErrDimensionMismatch, len(alpha), model.ModeCount())
	}
	shape := make([]float64, model.Dim())
	dst := mat.NewVecDense(len(shape), shape)
	dst.MulVec(model.basis, mat.NewVecDense(len(alpha), alpha))
	floats.Add(shape, model.mean)
	return shape, nil
}

// CoefficientsFromShape projects shape onto the model:
// alpha = pinv(basisScaled)·(shape − mean). The result is exact when shape
// lies in the model's span and the least-squares projection otherwise.
func CoefficientsFromShape(model *ShapeModel, shape []float64) ([]float64, error) {
	return CoefficientsFromShapeWithOptions(model, shape, SolverOptions{})
}

// CoefficientsFromShapeWithOptions is CoefficientsFromShape with explicit
// tolerances.
func CoefficientsFromShapeWithOptions(model *ShapeModel, shape []float64, opts SolverOptions) ([]float64, error) {
	if len(shape) != model.Dim() {
		return nil, fmt.Errorf("%w: shape has %d values, model expects %d", ErrDimensionMismatch, len(shape), model.Dim())
	}
	svd, ok := model.svd()
	if !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingularBasis)
	}

	rcond := opts.PinvRCond
	if rcond <= 0 {
		rcond = float64(max(model.Dim(), model.ModeCount())) * machineEpsilon
	}
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, fmt.Errorf("%w: numerical rank is zero", ErrSingularBasis)
	}

	diff := make([]float64, len(shape))
	floats.SubTo(diff, shape, model.mean)
	alpha := mat.NewVecDense(model.ModeCount(), nil)
	svd.SolveVecTo(alpha, mat.NewVecDense(len(diff), diff), rank)
	return alpha.RawVector().Data, nil
}

// ComputePosterior returns the posterior mean shape and coefficients of the
// model given the observations, using default SolverOptions.
//
// An empty observation set is a no-op: the result is the mean shape with
// zero coefficients.
func ComputePosterior(model *ShapeModel, obs ObservationSet) (Posterior, error) {
	return ComputePosteriorWithOptions(model, obs, SolverOptions{})
}

// ComputePosteriorWithOptions conditions the model on obs:
//
//	M     = Q_gᵀ·Q_g + D
//	alpha = M⁻¹ · Q_gᵀ · (s_g − mean_g)
//	shape = mean + basisScaled · alpha
//
// where Q_g, s_g and mean_g are the basis rows, observed values and mean
// entries at the observed indices and D is the diagonal chosen by
// opts.Regularizer. M is K×K and solved directly.
func ComputePosteriorWithOptions(model *ShapeModel, obs ObservationSet, opts SolverOptions) (Posterior, error) {
	k := model.ModeCount()
	if obs.Len() == 0 {
		return Posterior{Shape: model.Mean(), Coefficients: make([]float64, k), RCond: 1}, nil
	}
	if obs.Dim() != model.Dim() {
		return Posterior{}, fmt.Errorf("%w: observations index a %d-value shape, model has %d", ErrDimensionMismatch, obs.Dim(), model.Dim())
	}

	m := obs.Len()
	qg := mat.NewDense(m, k, nil)
	resid := make([]float64, m)
	for r, idx := range obs.indices {
		qg.SetRow(r, model.basis.RawRowView(idx))
		resid[r] = obs.values[r] - model.mean[idx]
	}

	var sys mat.SymDense
	sys.SymOuterK(1, qg.T())
	minDiag := math.Inf(1)
	for i := 0; i < k; i++ {
		d := math.Max(opts.noiseVariance(), model.noiseFloor)
		if opts.Regularizer == ModeVarianceRegularizer {
			d = model.variance[i]
		}
		minDiag = math.Min(minDiag, d)
		sys.SetSym(i, i, sys.At(i, i)+d)
	}

	rhs := mat.NewVecDense(k, nil)
	rhs.MulVec(qg.T(), mat.NewVecDense(m, resid))

	// With a strictly positive diagonal M is positive definite whatever
	// the scale of the variance, so a successful Cholesky is accepted as
	// is. The condition gate only applies when the diagonal can vanish.
	alpha, rcond, err := solveSPD(&sys, rhs, opts.minRCond(), minDiag <= 0)
	if err != nil {
		return Posterior{}, err
	}
	shape, err := Evaluate(model, alpha)
	if err != nil {
		return Posterior{}, err
	}
	return Posterior{Shape: shape, Coefficients: alpha, Points: m / 3, RCond: rcond}, nil
}

// solveSPD solves a·x = b for a symmetric positive-definite a. Cholesky is
// tried first; LU covers matrices that lose definiteness to rounding. When
// gated, a Cholesky result must also reach minRCond.
func solveSPD(a *mat.SymDense, b *mat.VecDense, minRCond float64, gated bool) ([]float64, float64, error) {
	x := mat.NewVecDense(b.Len(), nil)

	var chol mat.Cholesky
	if chol.Factorize(a) {
		rcond := 1 / chol.Cond()
		if !gated || rcond >= minRCond {
			if err := chol.SolveVecTo(x, b); err == nil {
				if _, ok := firstNonFinite(x.RawVector().Data); ok {
					return x.RawVector().Data, rcond, nil
				}
			}
		}
	}

	var lu mat.LU
	lu.Factorize(a)
	rcond := 1 / lu.Cond()
	if math.IsNaN(rcond) || rcond < minRCond {
		return nil, rcond, fmt.Errorf("%w: reciprocal condition number %.3g below %.3g", ErrSingularSystem, rcond, minRCond)
	}
	if err := lu.SolveVecTo(x, false, b); err != nil {
		return nil, rcond, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	if i, ok := firstNonFinite(x.RawVector().Data); !ok {
		return nil, rcond, fmt.Errorf("%w: coefficient %d is not finite", ErrSingularSystem, i)
	}
	return x.RawVector().Data, rcond, nil
}
