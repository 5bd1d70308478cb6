package editor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/monitoring"
	"github.com/banshee-data/shapemodel/internal/ssm"
	"github.com/banshee-data/shapemodel/internal/timeutil"
)

// Store is the persistence the Manager needs. *db.DB implements it.
type Store interface {
	LoadModel(id string) (*ssm.ShapeModel, *db.ModelRecord, error)
	Landmarks(modelID string) ([]db.Landmark, error)
	SaveSession(s *db.SessionRecord) error
	LoadSession(id string) (*db.SessionRecord, error)
	DeleteSession(id string) error
	AppendHistory(sessionID, kind string, coefficients []float64, limit int) error
	History(sessionID string) ([]db.HistoryEntry, error)
}

// Manager owns the live editing sessions. Sessions are kept in memory while
// in use and written through to the Store after every edit, so an evicted or
// restarted session resumes from its last coefficients and landmarks.
type Manager struct {
	store Store
	cfg   *config.SolverConfig
	clock timeutil.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	models   map[string]*ssm.ShapeModel
	seq      int64
}

// NewManager creates a Manager. A nil clock uses the wall clock.
func NewManager(store Store, cfg *config.SolverConfig, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg == nil {
		cfg = config.EmptySolverConfig()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		clock:    clock,
		sessions: make(map[string]*Session),
		models:   make(map[string]*ssm.ShapeModel),
	}
}

// Model returns a stored model, caching it for later sessions.
func (m *Manager) Model(id string) (*ssm.ShapeModel, error) {
	m.mu.Lock()
	model, ok := m.models[id]
	m.mu.Unlock()
	if ok {
		return model, nil
	}

	model, _, err := m.store.LoadModel(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.models[id] = model
	m.mu.Unlock()
	return model, nil
}

// ForgetModel drops a deleted model and its live sessions from memory.
func (m *Manager) ForgetModel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, id)
	for sid, s := range m.sessions {
		if s.ModelID() == id {
			delete(m.sessions, sid)
		}
	}
}

// rng returns the random source for a new session: deterministic per
// session when random_seed is set, time-seeded otherwise. Callers hold m.mu.
func (m *Manager) rng() *rand.Rand {
	if seed := m.cfg.GetRandomSeed(); seed != 0 {
		m.seq++
		return rand.New(rand.NewSource(seed + m.seq))
	}
	return rand.New(rand.NewSource(m.clock.Now().UnixNano()))
}

// Create starts a session on a stored model at its mean shape.
func (m *Manager) Create(modelID string) (*Session, error) {
	model, err := m.Model(modelID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	s := NewSession(uuid.NewString(), modelID, model, PolicyFromConfig(m.cfg), m.clock, m.rng())
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if err := m.Record(s, "create"); err != nil {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		return nil, err
	}
	monitoring.Diagf("session %s created on model %s", s.ID(), modelID)
	return s, nil
}

// Get returns a live session, restoring it from the Store if necessary.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := m.store.LoadSession(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	model, err := m.Model(rec.ModelID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have restored it meanwhile.
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s = NewSession(rec.ID, rec.ModelID, model, PolicyFromConfig(m.cfg), m.clock, m.rng())
	pins := make(map[int][3]float64, len(rec.Pinned))
	for _, p := range rec.Pinned {
		pins[p.Point] = p.Position
	}
	if err := s.Restore(rec.Coefficients, pins); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	m.sessions[id] = s
	monitoring.Diagf("session %s restored", id)
	return s, nil
}

// Record writes the session snapshot through to the Store and appends its
// coefficients to the history under kind.
func (m *Manager) Record(s *Session, kind string) error {
	snap := s.Snapshot()
	pinned := make([]db.PinnedPoint, len(snap.Landmarks))
	for i, l := range snap.Landmarks {
		pinned[i] = db.PinnedPoint{Point: l.Point, Position: l.Position}
	}
	err := m.store.SaveSession(&db.SessionRecord{
		ID:           snap.ID,
		ModelID:      snap.ModelID,
		Coefficients: snap.Coefficients,
		Pinned:       pinned,
		UpdatedAt:    snap.UpdatedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return m.store.AppendHistory(snap.ID, kind, snap.Coefficients, m.cfg.GetHistoryLimit())
}

// History returns the recorded coefficient history of a session.
func (m *Manager) History(id string) ([]db.HistoryEntry, error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}
	return m.store.History(id)
}

// LoadLandmarks pins the model's predefined landmarks on the session,
// replacing any existing ones.
func (m *Manager) LoadLandmarks(s *Session) (int, error) {
	landmarks, err := m.store.Landmarks(s.ModelID())
	if err != nil {
		return 0, err
	}
	s.ClearLandmarks()
	for _, l := range landmarks {
		if err := s.PinAt(l.PointIndex, l.Position); err != nil {
			return 0, fmt.Errorf("landmark %q: %w", l.Name, err)
		}
	}
	return len(landmarks), nil
}

// Delete removes a session from memory and the Store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	err := m.store.DeleteSession(id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return err
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle drops in-memory sessions untouched for longer than maxIdle.
// Their stored snapshots remain and Get restores them on demand.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if m.clock.Since(s.UpdatedAt()) > maxIdle {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		monitoring.Diagf("evicted %d idle sessions", n)
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.EvictIdle(maxIdle)
		}
	}
}
