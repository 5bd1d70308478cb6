package main

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/db"
)

func TestSeedDevModel(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "dev.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer database.Close()

	*devPoints, *devModes = 30, 4
	defer func() { *devPoints, *devModes = 200, 8 }()

	cfg := config.DefaultSolverConfig()
	for i := 0; i < 2; i++ {
		if err := seedDevModel(database, cfg); err != nil {
			t.Fatalf("seedDevModel #%d failed: %v", i+1, err)
		}
	}

	models, err := database.ListModels()
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected one dev model after two seeds, got %d", len(models))
	}
	if models[0].PointCount != 30 || models[0].ModeCount != 4 {
		t.Errorf("unexpected dimensions %+v", models[0])
	}

	landmarks, err := database.Landmarks(models[0].ID)
	if err != nil {
		t.Fatalf("Landmarks failed: %v", err)
	}
	if len(landmarks) != 3 {
		t.Errorf("expected 3 landmarks, got %d", len(landmarks))
	}
}
