package db

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testModel(t *testing.T) *ssm.ShapeModel {
	t.Helper()
	model, err := ssm.Synthetic(4, 3, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Synthetic failed: %v", err)
	}
	return model
}

func TestNewDBMigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 false", version, dirty)
	}

	for _, table := range []string{"shape_models", "landmarks", "sessions", "session_history"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)
	fsys := MigrationsFS()

	if err := db.MigrateDown(fsys); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if v, _, _ := db.MigrateVersion(fsys); v != 1 {
		t.Errorf("version after down = %d, want 1", v)
	}
	if err := db.MigrateTo(fsys, 2); err != nil {
		t.Fatalf("MigrateTo failed: %v", err)
	}
	if v, _, _ := db.MigrateVersion(fsys); v != 2 {
		t.Errorf("version after up = %d, want 2", v)
	}
}

func TestFloatBlobs(t *testing.T) {
	values := []float64{0, -1.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64}
	buf := encodeFloats(values)
	if len(buf) != 8*len(values) {
		t.Fatalf("len = %d, want %d", len(buf), 8*len(values))
	}
	// little-endian 1.0
	if one := encodeFloats([]float64{1}); one[7] != 0x3f || one[6] != 0xf0 {
		t.Errorf("1.0 encoded as % x", one)
	}
	got, err := decodeFloats(buf)
	if err != nil {
		t.Fatalf("decodeFloats failed: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], values[i])
		}
	}
	if _, err := decodeFloats([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestSaveAndLoadModel(t *testing.T) {
	db := setupTestDB(t)
	model := testModel(t)

	rec, err := db.SaveModel("sphere", model)
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if rec.ID == "" || rec.PointCount != 4 || rec.ModeCount != 3 {
		t.Errorf("unexpected record %+v", rec)
	}

	loaded, loadedRec, err := db.LoadModel(rec.ID)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if loadedRec.Name != "sphere" {
		t.Errorf("name = %q", loadedRec.Name)
	}

	alpha := []float64{0.5, -1, 2}
	want, _ := ssm.Evaluate(model, alpha)
	got, err := ssm.Evaluate(loaded, alpha)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("shape[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	models, err := db.ListModels()
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 1 || models[0].ID != rec.ID {
		t.Errorf("ListModels = %+v", models)
	}
}

func TestLoadModelNotFound(t *testing.T) {
	db := setupTestDB(t)
	if _, _, err := db.LoadModel("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteModel("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLandmarks(t *testing.T) {
	db := setupTestDB(t)
	rec, err := db.SaveModel("sphere", testModel(t))
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	in := []Landmark{
		{Name: "tip", PointIndex: 3, Position: [3]float64{0, 1, 0}},
		{Name: "base", PointIndex: 0, Position: [3]float64{0, -1, 0}},
	}
	if err := db.SaveLandmarks(rec.ID, in); err != nil {
		t.Fatalf("SaveLandmarks failed: %v", err)
	}
	got, err := db.Landmarks(rec.ID)
	if err != nil {
		t.Fatalf("Landmarks failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "base" || got[1].Position != in[0].Position {
		t.Errorf("Landmarks = %+v", got)
	}

	// Replacing drops the old list.
	if err := db.SaveLandmarks(rec.ID, in[:1]); err != nil {
		t.Fatalf("SaveLandmarks failed: %v", err)
	}
	if got, _ := db.Landmarks(rec.ID); len(got) != 1 {
		t.Errorf("expected 1 landmark after replace, got %d", len(got))
	}
}

func TestSessionsAndHistory(t *testing.T) {
	db := setupTestDB(t)
	rec, err := db.SaveModel("sphere", testModel(t))
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	s := &SessionRecord{ID: "s1", ModelID: rec.ID, Coefficients: []float64{0, 0, 0}}
	if err := db.SaveSession(s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	s.Coefficients = []float64{1, 2, 3}
	s.Pinned = []PinnedPoint{{Point: 2, Position: [3]float64{1, 0, 0}}}
	if err := db.SaveSession(s); err != nil {
		t.Fatalf("SaveSession update failed: %v", err)
	}

	got, err := db.LoadSession("s1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got.Coefficients[2] != 3 || len(got.Pinned) != 1 || got.Pinned[0] != s.Pinned[0] {
		t.Errorf("LoadSession = %+v", got)
	}

	for i := 0; i < 5; i++ {
		if err := db.AppendHistory("s1", "coefficient", []float64{float64(i), 0, 0}, 3); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}
	history, err := db.History("s1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Seq != 3 || history[2].Coefficients[0] != 4 {
		t.Errorf("history = %+v", history)
	}

	// Deleting the model removes its sessions.
	if err := db.DeleteModel(rec.ID); err != nil {
		t.Fatalf("DeleteModel failed: %v", err)
	}
	if _, err := db.LoadSession("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived model deletion: %v", err)
	}
	if h, _ := db.History("s1"); len(h) != 0 {
		t.Errorf("history survived model deletion: %d entries", len(h))
	}
}

func TestDeleteSession(t *testing.T) {
	db := setupTestDB(t)
	rec, _ := db.SaveModel("sphere", testModel(t))
	if err := db.SaveSession(&SessionRecord{ID: "s1", ModelID: rec.ID, Coefficients: []float64{0, 0, 0}}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := db.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := db.DeleteSession("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	for _, path := range []string{"/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// 403 is fine: tsweb gates debug routes on the caller address.
		if w.Code == http.StatusNotFound {
			t.Errorf("route %s not registered", path)
		}
	}
}

func TestBackupHandler(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.SaveModel("sphere", testModel(t)); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	w := httptest.NewRecorder()
	db.handleBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	// gzip magic
	if b := w.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Errorf("backup is not gzip")
	}
}
