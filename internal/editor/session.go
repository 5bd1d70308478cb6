package editor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/monitoring"
	"github.com/banshee-data/shapemodel/internal/ssm"
	"github.com/banshee-data/shapemodel/internal/timeutil"
)

var (
	ErrPointOutOfRange     = errors.New("point index out of range")
	ErrSolveTimeout        = errors.New("posterior solve timed out")
	ErrTooManyObservations = errors.New("too many observed points")
	ErrSessionNotFound     = errors.New("session not found")
	ErrStaleSolve          = errors.New("session changed during solve")
)

// Policy holds the editing limits applied on top of the pure solver.
type Policy struct {
	CoefficientClamp      float64
	LandmarkTolerance     float64
	SolveTimeout          time.Duration
	MaxObservedPoints     int // 0 = unlimited
	RegularizationEpsilon float64
	Solver                ssm.SolverOptions
}

// PolicyFromConfig extracts the editing policy from a solver config.
func PolicyFromConfig(cfg *config.SolverConfig) Policy {
	return Policy{
		CoefficientClamp:      cfg.GetCoefficientClamp(),
		LandmarkTolerance:     cfg.GetLandmarkTolerance(),
		SolveTimeout:          cfg.GetSolveTimeout(),
		MaxObservedPoints:     cfg.GetMaxObservedPoints(),
		RegularizationEpsilon: cfg.GetRegularizationEpsilon(),
		Solver:                cfg.SolverOptions(),
	}
}

// Session is one user's interactive edit of a shape model. Coefficient edits
// regenerate the shape from the model; point moves and landmarks are
// collected as observations until Solve conditions the model on them.
//
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id      string
	modelID string
	model   *ssm.ShapeModel
	policy  Policy
	clock   timeutil.Clock
	rng     *rand.Rand

	instance *ssm.ShapeInstance
	original []float64 // shape as last generated from coefficients
	current  []float64 // original plus pending point moves
	pins     map[int][3]float64
	updated  time.Time
	gen      uint64 // bumped by every edit

	// solved runs between a finished solve and its adoption. Tests only.
	solved func()
}

// NewSession starts a session at the model's mean shape.
func NewSession(id, modelID string, model *ssm.ShapeModel, policy Policy, clock timeutil.Clock, rng *rand.Rand) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	s := &Session{
		id:       id,
		modelID:  modelID,
		model:    model,
		policy:   policy,
		clock:    clock,
		rng:      rng,
		instance: ssm.NewInstance(model),
		pins:     make(map[int][3]float64),
	}
	s.regenerate()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) ModelID() string { return s.modelID }

// Model returns the read-only model the session edits.
func (s *Session) Model() *ssm.ShapeModel { return s.model }

// regenerate rebuilds the shape from the coefficients and drops pending
// moves. Callers hold s.mu.
func (s *Session) regenerate() {
	shape, err := s.instance.Shape(s.model)
	if err != nil {
		// The instance was built for s.model, so this is a programming error.
		panic(fmt.Sprintf("session %s: %v", s.id, err))
	}
	s.original = shape
	s.current = append([]float64(nil), shape...)
	s.touch()
}

// touch records an edit. Callers hold s.mu.
func (s *Session) touch() {
	s.gen++
	s.updated = s.clock.Now()
}

func (s *Session) checkPoint(p int) error {
	if p < 0 || p >= s.model.PointCount() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrPointOutOfRange, p, s.model.PointCount())
	}
	return nil
}

// SetCoefficient sets one mode coefficient, clamped to ±CoefficientClamp,
// and returns the stored value.
func (s *Session) SetCoefficient(index int, value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: coefficient %d is not finite", ssm.ErrInvalidObservation, index)
	}
	if c := s.policy.CoefficientClamp; c > 0 {
		value = math.Max(-c, math.Min(c, value))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.instance.SetCoefficient(index, value); err != nil {
		return 0, err
	}
	s.regenerate()
	return value, nil
}

// Randomize draws every coefficient from N(0, 1).
func (s *Session) Randomize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance.Randomize(s.rng)
	s.regenerate()
}

// Reset returns to the mean shape and clears all landmarks.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance.Reset()
	clear(s.pins)
	s.regenerate()
}

// Restore replaces coefficients and landmarks, used when loading a stored
// session.
func (s *Session) Restore(alpha []float64, pins map[int][3]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range pins {
		if err := s.checkPoint(p); err != nil {
			return err
		}
	}
	if err := s.instance.Assign(alpha); err != nil {
		return err
	}
	clear(s.pins)
	for p, pos := range pins {
		s.pins[p] = pos
	}
	s.regenerate()
	return nil
}

// MovePoint places point p at pos. A landmark on p follows the move.
func (s *Session) MovePoint(p int, pos [3]float64) error {
	for _, v := range pos {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: position of point %d is not finite", ssm.ErrInvalidObservation, p)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPoint(p); err != nil {
		return err
	}
	copy(s.current[3*p:3*p+3], pos[:])
	if _, ok := s.pins[p]; ok {
		s.pins[p] = pos
	}
	s.touch()
	return nil
}

// ResetPoint undoes the pending move of p and removes its landmark.
func (s *Session) ResetPoint(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPoint(p); err != nil {
		return err
	}
	copy(s.current[3*p:3*p+3], s.original[3*p:3*p+3])
	delete(s.pins, p)
	s.touch()
	return nil
}

// RevertMoves undoes every pending move and removes all landmarks.
func (s *Session) RevertMoves() {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.current, s.original)
	clear(s.pins)
	s.touch()
}

// Pin adds a landmark holding point p at its current position.
func (s *Session) Pin(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPoint(p); err != nil {
		return err
	}
	s.pins[p] = s.position(p)
	s.touch()
	return nil
}

// PinAt adds a landmark holding point p at pos without moving the displayed
// point, as used for predefined landmark lists.
func (s *Session) PinAt(p int, pos [3]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPoint(p); err != nil {
		return err
	}
	s.pins[p] = pos
	s.touch()
	return nil
}

// Unpin removes the landmark on p, if any.
func (s *Session) Unpin(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, p)
	s.touch()
}

// ClearLandmarks removes every landmark.
func (s *Session) ClearLandmarks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pins)
	s.touch()
}

// PinNearest toggles a landmark at the point nearest to pos. If a landmark
// already lies within LandmarkTolerance of that point it is removed,
// otherwise the point is pinned. It returns the point and whether it is now
// pinned.
func (s *Session) PinNearest(pos [3]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := nearest(s.current, pos)
	at := s.position(p)
	for q, l := range s.pins {
		if distance(l, at) < s.policy.LandmarkTolerance {
			delete(s.pins, q)
			s.touch()
			return p, false
		}
	}
	s.pins[p] = at
	s.touch()
	return p, true
}

// NearestPoint returns the index of the point closest to pos.
func (s *Session) NearestPoint(pos [3]float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nearest(s.current, pos)
}

func nearest(shape []float64, pos [3]float64) int {
	best, bestDist := 0, math.Inf(1)
	for i := 0; i < len(shape); i += 3 {
		if d := distance([3]float64{shape[i], shape[i+1], shape[i+2]}, pos); d < bestDist {
			best, bestDist = i/3, d
		}
	}
	return best
}

func distance(a, b [3]float64) float64 {
	return math.Sqrt((a[0]-b[0])*(a[0]-b[0]) + (a[1]-b[1])*(a[1]-b[1]) + (a[2]-b[2])*(a[2]-b[2]))
}

func (s *Session) position(p int) [3]float64 {
	return [3]float64{s.current[3*p], s.current[3*p+1], s.current[3*p+2]}
}

// Observations returns the moved points at their current positions and the
// landmarks at their pinned positions.
func (s *Session) Observations() (ssm.ObservationSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observations()
}

func (s *Session) observations() (ssm.ObservationSet, error) {
	points := make(map[int][3]float64, len(s.pins))
	for i := 0; i < len(s.current); i += 3 {
		if s.current[i] != s.original[i] || s.current[i+1] != s.original[i+1] || s.current[i+2] != s.original[i+2] {
			points[i/3] = [3]float64{s.current[i], s.current[i+1], s.current[i+2]}
		}
	}
	for p, pos := range s.pins {
		points[p] = pos
	}
	return ssm.ObservePoints(s.model.Dim(), points)
}

// Solve conditions the model on the session's observations and adopts the
// posterior coefficients and shape. Moved points become landmarks at the
// positions they were moved to. The solve runs on its own goroutine and is
// abandoned after SolveTimeout or when ctx ends; a failed or abandoned solve
// leaves the session unchanged. If the session is edited while the solve
// runs, the result is discarded with ErrStaleSolve and the edit stands.
func (s *Session) Solve(ctx context.Context) (ssm.Posterior, error) {
	s.mu.Lock()
	gen := s.gen
	obs, err := s.observations()
	if err != nil {
		s.mu.Unlock()
		return ssm.Posterior{}, err
	}
	pins := make(map[int][3]float64)
	values := obs.Values()
	for i, p := range obs.Points() {
		pins[p] = [3]float64{values[3*i], values[3*i+1], values[3*i+2]}
	}
	s.mu.Unlock()

	if limit := s.policy.MaxObservedPoints; limit > 0 && len(pins) > limit {
		return ssm.Posterior{}, fmt.Errorf("%w: %d points, limit %d", ErrTooManyObservations, len(pins), limit)
	}

	post, err := s.solve(ctx, s.model, obs)
	if errors.Is(err, ssm.ErrSingularSystem) && s.policy.RegularizationEpsilon > 0 {
		monitoring.Diagf("session %s: %v, retrying with regularization floor %g", s.id, err, s.policy.RegularizationEpsilon)
		post, err = s.solve(ctx, s.model.Regularized(s.policy.RegularizationEpsilon), obs)
	}
	if err != nil {
		return ssm.Posterior{}, err
	}
	if s.solved != nil {
		s.solved()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ssm.Posterior{}, ErrStaleSolve
	}
	if err := s.instance.Assign(post.Coefficients); err != nil {
		return ssm.Posterior{}, err
	}
	s.original = append([]float64(nil), post.Shape...)
	s.current = append([]float64(nil), post.Shape...)
	s.pins = pins
	s.touch()
	monitoring.Tracef("session %s: solved on %d points, rcond %.3g", s.id, post.Points, post.RCond)
	return post, nil
}

func (s *Session) solve(ctx context.Context, model *ssm.ShapeModel, obs ssm.ObservationSet) (ssm.Posterior, error) {
	if err := ctx.Err(); err != nil {
		return ssm.Posterior{}, err
	}
	var timeout <-chan time.Time
	if s.policy.SolveTimeout > 0 {
		timeout = s.clock.After(s.policy.SolveTimeout)
	}
	select {
	case res := <-ssm.SolveAsync(model, obs, s.policy.Solver):
		return res.Posterior, res.Err
	case <-ctx.Done():
		return ssm.Posterior{}, ctx.Err()
	case <-timeout:
		return ssm.Posterior{}, fmt.Errorf("%w after %s", ErrSolveTimeout, s.policy.SolveTimeout)
	}
}

// Shape returns a copy of the displayed shape, including pending moves.
func (s *Session) Shape() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.current...)
}

// Coefficients returns a copy of the coefficient vector.
func (s *Session) Coefficients() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance.Coefficients()
}

// Landmarks returns the pinned points in index order.
func (s *Session) Landmarks() []Landmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.landmarks()
}

func (s *Session) landmarks() []Landmark {
	out := make([]Landmark, 0, len(s.pins))
	for p, pos := range s.pins {
		out = append(out, Landmark{Point: p, Position: pos})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Point < out[j].Point })
	return out
}

// UpdatedAt returns the time of the last edit.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Landmark is a pinned point and the position it is held at.
type Landmark struct {
	Point    int        `json:"point"`
	Position [3]float64 `json:"position"`
}

// Snapshot is the JSON view of a session.
type Snapshot struct {
	ID           string     `json:"id"`
	ModelID      string     `json:"model_id"`
	Coefficients []float64  `json:"coefficients"`
	Shape        []float64  `json:"shape"`
	Landmarks    []Landmark `json:"landmarks"`
	Moved        []int      `json:"moved"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := []int{}
	for i := 0; i < len(s.current); i += 3 {
		if s.current[i] != s.original[i] || s.current[i+1] != s.original[i+1] || s.current[i+2] != s.original[i+2] {
			moved = append(moved, i/3)
		}
	}
	return Snapshot{
		ID:           s.id,
		ModelID:      s.modelID,
		Coefficients: s.instance.Coefficients(),
		Shape:        append([]float64(nil), s.current...),
		Landmarks:    s.landmarks(),
		Moved:        moved,
		UpdatedAt:    s.updated,
	}
}
