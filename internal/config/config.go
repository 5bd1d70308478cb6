package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

// DefaultConfigPath is the path to the canonical solver defaults file.
const DefaultConfigPath = "config/solver.defaults.json"

// SolverConfig is the root configuration for the shape model service. The
// same JSON is loaded at startup and served by /api/config. Omitted fields fall
// back to the defaults returned by the Get* methods.
type SolverConfig struct {
	// Posterior solver
	Regularizer           *string  `json:"regularizer,omitempty"` // "noise" or "mode_variance"
	NoiseVariance         *float64 `json:"noise_variance,omitempty"`
	RegularizationEpsilon *float64 `json:"regularization_epsilon,omitempty"`
	MinRCond              *float64 `json:"min_rcond,omitempty"`
	PinvRCond             *float64 `json:"pinv_rcond,omitempty"`
	SolveTimeout          *string  `json:"solve_timeout,omitempty"` // duration string like "5s"
	MaxObservedPoints     *int     `json:"max_observed_points,omitempty"`

	// Editing policy
	CoefficientClamp  *float64 `json:"coefficient_clamp,omitempty"`
	LandmarkTolerance *float64 `json:"landmark_tolerance,omitempty"`
	RandomSeed        *int64   `json:"random_seed,omitempty"`
	HistoryLimit      *int     `json:"history_limit,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptySolverConfig returns a SolverConfig with all fields set to nil.
func EmptySolverConfig() *SolverConfig {
	return &SolverConfig{}
}

// DefaultSolverConfig returns a SolverConfig with every field populated
// from the Get* defaults.
func DefaultSolverConfig() *SolverConfig {
	c := EmptySolverConfig()
	return &SolverConfig{
		Regularizer:           ptrString(c.GetRegularizer().String()),
		NoiseVariance:         ptrFloat64(c.GetNoiseVariance()),
		RegularizationEpsilon: ptrFloat64(c.GetRegularizationEpsilon()),
		MinRCond:              ptrFloat64(c.GetMinRCond()),
		PinvRCond:             ptrFloat64(c.GetPinvRCond()),
		SolveTimeout:          ptrString(c.GetSolveTimeout().String()),
		MaxObservedPoints:     ptrInt(c.GetMaxObservedPoints()),
		CoefficientClamp:      ptrFloat64(c.GetCoefficientClamp()),
		LandmarkTolerance:     ptrFloat64(c.GetLandmarkTolerance()),
		RandomSeed:            ptrInt64(c.GetRandomSeed()),
		HistoryLimit:          ptrInt(c.GetHistoryLimit()),
	}
}

// LoadSolverConfig loads a SolverConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadSolverConfig(path string) (*SolverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSolverConfig(data)
}

// ParseSolverConfig decodes and validates a JSON config document.
func ParseSolverConfig(data []byte) (*SolverConfig, error) {
	cfg := EmptySolverConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SolverConfig) Validate() error {
	if c.Regularizer != nil {
		if _, err := ssm.ParseRegularizer(*c.Regularizer); err != nil {
			return err
		}
	}

	if c.NoiseVariance != nil && *c.NoiseVariance < 0 {
		return fmt.Errorf("noise_variance must be non-negative, got %g", *c.NoiseVariance)
	}

	if c.RegularizationEpsilon != nil && *c.RegularizationEpsilon <= 0 {
		return fmt.Errorf("regularization_epsilon must be positive, got %g", *c.RegularizationEpsilon)
	}

	if c.MinRCond != nil {
		if *c.MinRCond < 0 || *c.MinRCond >= 1 {
			return fmt.Errorf("min_rcond must be in [0, 1), got %g", *c.MinRCond)
		}
	}

	if c.PinvRCond != nil {
		if *c.PinvRCond < 0 || *c.PinvRCond >= 1 {
			return fmt.Errorf("pinv_rcond must be in [0, 1), got %g", *c.PinvRCond)
		}
	}

	if c.SolveTimeout != nil && *c.SolveTimeout != "" {
		d, err := time.ParseDuration(*c.SolveTimeout)
		if err != nil {
			return fmt.Errorf("invalid solve_timeout '%s': %w", *c.SolveTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("solve_timeout must be positive, got %s", d)
		}
	}

	if c.MaxObservedPoints != nil && *c.MaxObservedPoints < 0 {
		return fmt.Errorf("max_observed_points must be non-negative, got %d", *c.MaxObservedPoints)
	}

	if c.CoefficientClamp != nil && *c.CoefficientClamp <= 0 {
		return fmt.Errorf("coefficient_clamp must be positive, got %g", *c.CoefficientClamp)
	}

	if c.LandmarkTolerance != nil && *c.LandmarkTolerance < 0 {
		return fmt.Errorf("landmark_tolerance must be non-negative, got %g", *c.LandmarkTolerance)
	}

	if c.HistoryLimit != nil && *c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be non-negative, got %d", *c.HistoryLimit)
	}

	return nil
}

// SolverOptions converts the posterior settings into ssm.SolverOptions.
func (c *SolverConfig) SolverOptions() ssm.SolverOptions {
	noise := c.GetNoiseVariance()
	if noise == 0 {
		noise = -1 // exactly zero, not the ssm default
	}
	return ssm.SolverOptions{
		Regularizer:   c.GetRegularizer(),
		NoiseVariance: noise,
		MinRCond:      c.GetMinRCond(),
		PinvRCond:     c.GetPinvRCond(),
	}
}

// GetRegularizer returns the regularizer or the default (noise).
func (c *SolverConfig) GetRegularizer() ssm.Regularizer {
	if c.Regularizer == nil {
		return ssm.NoiseRegularizer
	}
	r, err := ssm.ParseRegularizer(*c.Regularizer)
	if err != nil {
		return ssm.NoiseRegularizer // default on parse error
	}
	return r
}

// GetNoiseVariance returns the noise_variance value or the default.
func (c *SolverConfig) GetNoiseVariance() float64 {
	if c.NoiseVariance == nil {
		return ssm.DefaultNoiseVariance
	}
	return *c.NoiseVariance
}

// GetRegularizationEpsilon returns the variance and noise floor used when a caller
// retries a singular solve against a regularized model.
func (c *SolverConfig) GetRegularizationEpsilon() float64 {
	if c.RegularizationEpsilon == nil {
		return 1e-6
	}
	return *c.RegularizationEpsilon
}

// GetMinRCond returns the min_rcond value or the default.
func (c *SolverConfig) GetMinRCond() float64 {
	if c.MinRCond == nil {
		return ssm.DefaultMinRCond
	}
	return *c.MinRCond
}

// GetPinvRCond returns the pinv_rcond value or the default (0, automatic).
func (c *SolverConfig) GetPinvRCond() float64 {
	if c.PinvRCond == nil {
		return 0
	}
	return *c.PinvRCond
}

// GetSolveTimeout parses and returns the SolveTimeout as a time.Duration.
func (c *SolverConfig) GetSolveTimeout() time.Duration {
	if c.SolveTimeout == nil || *c.SolveTimeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SolveTimeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetMaxObservedPoints returns the max_observed_points value or the default
// (0, unlimited).
func (c *SolverConfig) GetMaxObservedPoints() int {
	if c.MaxObservedPoints == nil {
		return 0
	}
	return *c.MaxObservedPoints
}

// GetCoefficientClamp returns the coefficient_clamp value or the default.
func (c *SolverConfig) GetCoefficientClamp() float64 {
	if c.CoefficientClamp == nil {
		return 3.0
	}
	return *c.CoefficientClamp
}

// GetLandmarkTolerance returns the landmark_tolerance value or the default.
func (c *SolverConfig) GetLandmarkTolerance() float64 {
	if c.LandmarkTolerance == nil {
		return 1e-3
	}
	return *c.LandmarkTolerance
}

// GetRandomSeed returns the random_seed value or the default (0, time-seeded).
func (c *SolverConfig) GetRandomSeed() int64 {
	if c.RandomSeed == nil {
		return 0
	}
	return *c.RandomSeed
}

// GetHistoryLimit returns the history_limit value or the default.
func (c *SolverConfig) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return 50
	}
	return *c.HistoryLimit
}
