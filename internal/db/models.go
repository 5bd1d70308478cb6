package db

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

// ErrNotFound is returned when a model or session id has no row.
var ErrNotFound = errors.New("not found")

// ModelRecord is the summary row of a stored shape model.
type ModelRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PointCount int       `json:"point_count"`
	ModeCount  int       `json:"mode_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Landmark is a named point of a model that editing sessions can pin.
type Landmark struct {
	Name       string     `json:"name"`
	PointIndex int        `json:"point_index"`
	Position   [3]float64 `json:"position"`
}

// encodeFloats packs values as little-endian float64s.
func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("float blob of %d bytes is not a multiple of 8", len(buf))
	}
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}

// SaveModel stores model under a new id and returns its summary.
func (db *DB) SaveModel(name string, model *ssm.ShapeModel) (*ModelRecord, error) {
	data := model.Data()
	rec := &ModelRecord{
		ID:         uuid.NewString(),
		Name:       name,
		PointCount: model.PointCount(),
		ModeCount:  model.ModeCount(),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO shape_models (model_id, name, point_count, mode_count, mean, basis, variance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.PointCount, rec.ModeCount,
		encodeFloats(data.Mean), encodeFloats(data.Basis), encodeFloats(data.Variance), rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert model: %w", err)
	}
	return rec, nil
}

// LoadModel reads a stored model back through ssm.Load.
func (db *DB) LoadModel(id string) (*ssm.ShapeModel, *ModelRecord, error) {
	var (
		rec                   ModelRecord
		mean, basis, variance []byte
	)
	err := db.QueryRow(`
		SELECT model_id, name, point_count, mode_count, mean, basis, variance, created_at
		FROM shape_models WHERE model_id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.PointCount, &rec.ModeCount, &mean, &basis, &variance, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query model: %w", err)
	}

	data := ssm.ModelData{Rows: 3 * rec.PointCount, Cols: rec.ModeCount}
	if data.Mean, err = decodeFloats(mean); err != nil {
		return nil, nil, fmt.Errorf("model %s mean: %w", id, err)
	}
	if data.Basis, err = decodeFloats(basis); err != nil {
		return nil, nil, fmt.Errorf("model %s basis: %w", id, err)
	}
	if data.Variance, err = decodeFloats(variance); err != nil {
		return nil, nil, fmt.Errorf("model %s variance: %w", id, err)
	}
	model, err := ssm.LoadData(data)
	if err != nil {
		return nil, nil, fmt.Errorf("model %s: %w", id, err)
	}
	return model, &rec, nil
}

// ListModels returns every stored model, newest first.
func (db *DB) ListModels() ([]ModelRecord, error) {
	rows, err := db.Query(`
		SELECT model_id, name, point_count, mode_count, created_at
		FROM shape_models ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	models := []ModelRecord{}
	for rows.Next() {
		var rec ModelRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.PointCount, &rec.ModeCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		models = append(models, rec)
	}
	return models, rows.Err()
}

// DeleteModel removes a model together with its landmarks and sessions.
func (db *DB) DeleteModel(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM session_history WHERE session_id IN (SELECT session_id FROM sessions WHERE model_id = ?)`,
		`DELETE FROM sessions WHERE model_id = ?`,
		`DELETE FROM landmarks WHERE model_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("failed to delete model %s: %w", id, err)
		}
	}
	res, err := tx.Exec(`DELETE FROM shape_models WHERE model_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// SaveLandmarks replaces the landmark list of a model.
func (db *DB) SaveLandmarks(modelID string, landmarks []Landmark) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM landmarks WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("failed to clear landmarks: %w", err)
	}
	for _, l := range landmarks {
		_, err := tx.Exec(`
			INSERT INTO landmarks (model_id, name, point_index, x, y, z)
			VALUES (?, ?, ?, ?, ?, ?)`,
			modelID, l.Name, l.PointIndex, l.Position[0], l.Position[1], l.Position[2])
		if err != nil {
			return fmt.Errorf("failed to insert landmark %q: %w", l.Name, err)
		}
	}
	return tx.Commit()
}

// Landmarks returns the landmarks of a model ordered by point index.
func (db *DB) Landmarks(modelID string) ([]Landmark, error) {
	rows, err := db.Query(`
		SELECT name, point_index, x, y, z FROM landmarks
		WHERE model_id = ? ORDER BY point_index, name`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query landmarks: %w", err)
	}
	defer rows.Close()

	var landmarks []Landmark
	for rows.Next() {
		var l Landmark
		if err := rows.Scan(&l.Name, &l.PointIndex, &l.Position[0], &l.Position[1], &l.Position[2]); err != nil {
			return nil, err
		}
		landmarks = append(landmarks, l)
	}
	return landmarks, rows.Err()
}
