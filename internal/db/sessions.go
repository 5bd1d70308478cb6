package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is the persisted snapshot of an editing session.
type SessionRecord struct {
	ID           string        `json:"id"`
	ModelID      string        `json:"model_id"`
	Coefficients []float64     `json:"coefficients"`
	Pinned       []PinnedPoint `json:"pinned"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// PinnedPoint is a landmark of a session: a point held at a position.
type PinnedPoint struct {
	Point    int        `json:"point"`
	Position [3]float64 `json:"position"`
}

// HistoryEntry is one coefficient state recorded after an edit.
type HistoryEntry struct {
	Seq          int       `json:"seq"`
	Kind         string    `json:"kind"`
	Coefficients []float64 `json:"coefficients"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveSession inserts or updates a session snapshot.
func (db *DB) SaveSession(s *SessionRecord) error {
	pinned := s.Pinned
	if pinned == nil {
		pinned = []PinnedPoint{}
	}
	pinnedJSON, err := json.Marshal(pinned)
	if err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	_, err = db.Exec(`
		INSERT INTO sessions (session_id, model_id, coefficients, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			coefficients = excluded.coefficients,
			pinned = excluded.pinned,
			updated_at = excluded.updated_at`,
		s.ID, s.ModelID, encodeFloats(s.Coefficients), string(pinnedJSON), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// LoadSession returns the stored snapshot of a session.
func (db *DB) LoadSession(id string) (*SessionRecord, error) {
	var (
		s      SessionRecord
		coeffs []byte
		pinned string
	)
	err := db.QueryRow(`
		SELECT session_id, model_id, coefficients, pinned, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.ModelID, &coeffs, &pinned, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if s.Coefficients, err = decodeFloats(coeffs); err != nil {
		return nil, fmt.Errorf("session %s coefficients: %w", id, err)
	}
	if err := json.Unmarshal([]byte(pinned), &s.Pinned); err != nil {
		return nil, fmt.Errorf("session %s pinned: %w", id, err)
	}
	return &s, nil
}

// DeleteSession removes a session and its history.
func (db *DB) DeleteSession(id string) error {
	if _, err := db.Exec(`DELETE FROM session_history WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendHistory records coefficients after an edit of the given kind and
// keeps only the newest limit entries. A limit of zero disables trimming.
func (db *DB) AppendHistory(sessionID, kind string, coefficients []float64, limit int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_history WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read history sequence: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO session_history (session_id, seq, kind, coefficients, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, next, kind, encodeFloats(coefficients), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if limit > 0 {
		_, err = tx.Exec(`DELETE FROM session_history WHERE session_id = ? AND seq <= ?`, sessionID, next-limit)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}
	return tx.Commit()
}

// History returns the recorded entries of a session, oldest first.
func (db *DB) History(sessionID string) ([]HistoryEntry, error) {
	rows, err := db.Query(`
		SELECT seq, kind, coefficients, created_at FROM session_history
		WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e      HistoryEntry
			coeffs []byte
		)
		if err := rows.Scan(&e.Seq, &e.Kind, &coeffs, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Coefficients, err = decodeFloats(coeffs); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
