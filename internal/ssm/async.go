package ssm

// PosteriorResult carries the outcome of SolveAsync.
type PosteriorResult struct {
	Posterior Posterior
	Err       error
}

// SolveAsync runs ComputePosteriorWithOptions on its own goroutine. The
// observation set is copied before handoff and exactly one result is sent on
// the returned channel, which is buffered so an abandoned solve never blocks.
// Callers that no longer want the result simply stop reading.
func SolveAsync(model *ShapeModel, obs ObservationSet, opts SolverOptions) <-chan PosteriorResult {
	out := make(chan PosteriorResult, 1)
	obs = obs.Clone()
	go func() {
		p, err := ComputePosteriorWithOptions(model, obs, opts)
		out <- PosteriorResult{Posterior: p, Err: err}
	}()
	return out
}
