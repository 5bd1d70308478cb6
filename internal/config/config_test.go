package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

func TestDefaultSolverConfig(t *testing.T) {
	cfg := DefaultSolverConfig()

	if cfg.NoiseVariance == nil || *cfg.NoiseVariance != 1e-6 {
		t.Errorf("Expected NoiseVariance 1e-6, got %v", cfg.NoiseVariance)
	}
	if cfg.Regularizer == nil || *cfg.Regularizer != "noise" {
		t.Errorf("Expected Regularizer 'noise', got %v", cfg.Regularizer)
	}
	if cfg.SolveTimeout == nil || *cfg.SolveTimeout != "5s" {
		t.Errorf("Expected SolveTimeout '5s', got %v", cfg.SolveTimeout)
	}
	if cfg.CoefficientClamp == nil || *cfg.CoefficientClamp != 3.0 {
		t.Errorf("Expected CoefficientClamp 3.0, got %v", cfg.CoefficientClamp)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	if cfg.GetHistoryLimit() != 50 {
		t.Errorf("GetHistoryLimit() = %d, want 50", cfg.GetHistoryLimit())
	}
	if cfg.GetLandmarkTolerance() != 1e-3 {
		t.Errorf("GetLandmarkTolerance() = %g, want 1e-3", cfg.GetLandmarkTolerance())
	}
}

func TestEmptySolverConfigGetters(t *testing.T) {
	cfg := EmptySolverConfig()

	if got := cfg.GetRegularizer(); got != ssm.NoiseRegularizer {
		t.Errorf("GetRegularizer() = %v, want noise", got)
	}
	if got := cfg.GetSolveTimeout(); got != 5*time.Second {
		t.Errorf("GetSolveTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetMinRCond(); got != ssm.DefaultMinRCond {
		t.Errorf("GetMinRCond() = %g, want %g", got, ssm.DefaultMinRCond)
	}
	if got := cfg.GetPinvRCond(); got != 0 {
		t.Errorf("GetPinvRCond() = %g, want 0", got)
	}
	if got := cfg.GetRandomSeed(); got != 0 {
		t.Errorf("GetRandomSeed() = %d, want 0", got)
	}
	if got := cfg.GetMaxObservedPoints(); got != 0 {
		t.Errorf("GetMaxObservedPoints() = %d, want 0", got)
	}
	if got := cfg.GetRegularizationEpsilon(); got != 1e-6 {
		t.Errorf("GetRegularizationEpsilon() = %g, want 1e-6", got)
	}
}

func TestLoadSolverConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "solver.json")

	testJSON := `{
  "regularizer": "mode_variance",
  "noise_variance": 0.01,
  "solve_timeout": "250ms",
  "coefficient_clamp": 2.5,
  "random_seed": 42
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSolverConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetRegularizer() != ssm.ModeVarianceRegularizer {
		t.Errorf("Expected mode_variance regularizer, got %v", cfg.GetRegularizer())
	}
	if cfg.GetNoiseVariance() != 0.01 {
		t.Errorf("Expected NoiseVariance 0.01, got %g", cfg.GetNoiseVariance())
	}
	if cfg.GetSolveTimeout() != 250*time.Millisecond {
		t.Errorf("Expected SolveTimeout 250ms, got %v", cfg.GetSolveTimeout())
	}
	if cfg.GetCoefficientClamp() != 2.5 {
		t.Errorf("Expected CoefficientClamp 2.5, got %g", cfg.GetCoefficientClamp())
	}
	if cfg.GetRandomSeed() != 42 {
		t.Errorf("Expected RandomSeed 42, got %d", cfg.GetRandomSeed())
	}
	// Unset fields keep defaults.
	if cfg.GetHistoryLimit() != 50 {
		t.Errorf("Expected default HistoryLimit 50, got %d", cfg.GetHistoryLimit())
	}
}

func TestLoadSolverConfig_DefaultsFile(t *testing.T) {
	cfg, err := LoadSolverConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("Failed to load %s: %v", DefaultConfigPath, err)
	}
	if diff := cfg.GetNoiseVariance() - DefaultSolverConfig().GetNoiseVariance(); diff != 0 {
		t.Errorf("defaults file disagrees with code defaults: noise_variance diff %g", diff)
	}
}

func TestLoadSolverConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadSolverConfig(filepath.Join(tmpDir, "solver.yaml")); err == nil {
		t.Error("expected error for non-.json extension")
	}
	if _, err := LoadSolverConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := filepath.Join(tmpDir, "big.json")
	if err := os.WriteFile(big, []byte(`{"x":"`+strings.Repeat("a", 1024*1024+1)+`"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSolverConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}

	bad := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSolverConfig(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"empty", `{}`, false},
		{"unknown regularizer", `{"regularizer":"ridge"}`, true},
		{"negative noise", `{"noise_variance":-1}`, true},
		{"zero epsilon", `{"regularization_epsilon":0}`, true},
		{"min_rcond too large", `{"min_rcond":1}`, true},
		{"pinv_rcond negative", `{"pinv_rcond":-0.1}`, true},
		{"bad timeout", `{"solve_timeout":"soon"}`, true},
		{"zero timeout", `{"solve_timeout":"0s"}`, true},
		{"negative max points", `{"max_observed_points":-3}`, true},
		{"zero clamp", `{"coefficient_clamp":0}`, true},
		{"negative tolerance", `{"landmark_tolerance":-1}`, true},
		{"negative history", `{"history_limit":-1}`, true},
		{"valid", `{"regularizer":"noise","noise_variance":0,"solve_timeout":"1s"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSolverConfig([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSolverConfig(%s) error = %v, wantErr %v", tt.json, err, tt.wantErr)
			}
		})
	}
}

func TestSolverOptions(t *testing.T) {
	cfg, err := ParseSolverConfig([]byte(`{"regularizer":"mode_variance","min_rcond":1e-9,"pinv_rcond":1e-10}`))
	if err != nil {
		t.Fatal(err)
	}
	opts := cfg.SolverOptions()
	if opts.Regularizer != ssm.ModeVarianceRegularizer || opts.MinRCond != 1e-9 || opts.PinvRCond != 1e-10 {
		t.Errorf("unexpected options %+v", opts)
	}

	zero, err := ParseSolverConfig([]byte(`{"noise_variance":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := zero.SolverOptions().NoiseVariance; got >= 0 {
		t.Errorf("explicit zero noise should map to a negative ssm value, got %g", got)
	}
}
