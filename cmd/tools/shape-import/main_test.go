package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/fsutil"
	"github.com/banshee-data/shapemodel/internal/httputil"
)

const twoPointDoc = `{
  "name": "two-point",
  "mean": [0, 0, 0, 0, 0, 0],
  "basis": [1, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0],
  "rows": 6,
  "cols": 2,
  "variance": [1, 1],
  "landmarks": [{"name": "tip", "point_index": 0, "position": [0.5, 0, 0]}]
}`

func memFS(t *testing.T, name, content string) fsutil.FileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return fsys
}

func TestRun_Database(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "import.db")
	cfg := Config{Input: "model.json", DBPath: dbPath, Layout: "row"}

	id, err := run(context.Background(), cfg, memFS(t, "model.json", twoPointDoc), nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer database.Close()

	model, rec, err := database.LoadModel(id)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if rec.Name != "two-point" || model.PointCount() != 2 || model.ModeCount() != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
	landmarks, err := database.Landmarks(id)
	if err != nil {
		t.Fatalf("Landmarks failed: %v", err)
	}
	if len(landmarks) != 1 || landmarks[0].Name != "tip" {
		t.Errorf("landmarks = %+v", landmarks)
	}
}

func TestRun_Server(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(201, `{"id":"abc","name":"renamed","point_count":2,"mode_count":2}`)
	cfg := Config{Input: "model.json", Name: "renamed", ServerURL: "http://localhost:8080/", Layout: "row"}

	id, err := run(context.Background(), cfg, memFS(t, "model.json", twoPointDoc), client)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if id != "abc" {
		t.Errorf("id = %q, want abc", id)
	}
	if client.RequestCount() != 1 {
		t.Fatalf("expected 1 request, got %d", client.RequestCount())
	}
	if got := client.Requests[0].URL.String(); got != "http://localhost:8080/api/models" {
		t.Errorf("url = %q", got)
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(client.Bodies[0], &sent); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if sent["name"] != "renamed" {
		t.Errorf("name = %v, want renamed", sent["name"])
	}
	if _, ok := sent["landmarks"]; !ok {
		t.Error("landmarks missing from request body")
	}
}

func TestRun_ServerError(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(400, `{"error":"name is required"}`)
	cfg := Config{Input: "model.json", ServerURL: "http://localhost:8080", Layout: "row"}

	_, err := run(context.Background(), cfg, memFS(t, "model.json", twoPointDoc), client)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("expected server error to surface, got %v", err)
	}
}

func TestRun_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		cfg  Config
	}{
		{"missing name", strings.Replace(twoPointDoc, `"two-point"`, `""`, 1), Config{Layout: "row"}},
		{"bad json", `{"name": `, Config{Layout: "row"}},
		{"bad layout", twoPointDoc, Config{Layout: "diagonal"}},
		{"landmark out of range", strings.Replace(twoPointDoc, `"point_index": 0`, `"point_index": 7`, 1), Config{Layout: "row"}},
		{"variance length", strings.Replace(twoPointDoc, `[1, 1]`, `[1]`, 1), Config{Layout: "row"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Input = "model.json"
			tt.cfg.DBPath = filepath.Join(t.TempDir(), "unused.db")
			if _, err := run(context.Background(), tt.cfg, memFS(t, "model.json", tt.doc), nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestTranspose(t *testing.T) {
	// 2 × 3 → 3 × 2
	out, rows, cols := transpose([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if rows != 3 || cols != 2 {
		t.Fatalf("dims = %d×%d, want 3×2", rows, cols)
	}
	want := []float64{1, 4, 2, 5, 3, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("transpose = %v, want %v", out, want)
		}
	}

	// Mismatched data passes through untouched.
	in := []float64{1, 2, 3}
	if out, r, c := transpose(in, 2, 2); len(out) != 3 || r != 2 || c != 2 {
		t.Errorf("mismatched input changed: %v %d %d", out, r, c)
	}
}

func TestReadDocument_ColumnLayout(t *testing.T) {
	colDoc := `{"name":"col","mean":[0,0,0,0,0,0],"basis":[1,0,0,0,0,0,0,0,0,1,0,0],"rows":2,"cols":6,"variance":[1,1]}`
	doc, err := readDocument(memFS(t, "m.json", colDoc), "m.json", "col")
	if err != nil {
		t.Fatalf("readDocument failed: %v", err)
	}
	if doc.Rows != 6 || doc.Cols != 2 {
		t.Fatalf("dims = %d×%d, want 6×2", doc.Rows, doc.Cols)
	}
	// Row 3 (point 1, x) carries mode 1.
	if doc.Basis[3*2+1] != 1 || doc.Basis[0] != 1 {
		t.Errorf("basis = %v", doc.Basis)
	}
}
