// Package ssm implements a probabilistic-PCA statistical shape model over
// 3D point clouds and the solver that conditions it on partial observations.
//
// Responsibilities: model construction from mean/basis/variance arrays,
// evaluation of shapes from coefficients, the pseudo-inverse projection of a
// shape back onto the model, posterior conditioning on observed point
// positions, and standard-normal coefficient sampling.
// Key types: ShapeModel, ShapeInstance, ObservationSet, Posterior.
//
// Dependency rule: ssm performs no I/O and no logging. Every operation is a
// pure function of its arguments; a ShapeModel is read-only after Load and
// may be shared between goroutines.
package ssm
