// Package config defines the tunable parameters of the ramp-fitting core —
// jump thresholds, fit model, worker pool sizing, read pattern — and the
// providers that load them.
package config

import "fmt"

// Fit model names accepted in FitData.Model.
const (
	ModelTwoParameter = "two_parameter" // rate + zero point, the default
	ModelRateOnly     = "rate_only"     // rate only, anchored at ramp start
)

// Provider defines the interface for configuration data sources
type Provider interface {
	// LoadConfig loads the complete configuration
	LoadConfig() (*Config, error)

	IsReadOnly() bool
	Close() error
}

// Config is the complete core configuration.
type Config struct {
	Jump     JumpData     `yaml:"jump" json:"jump"`
	Fit      FitData      `yaml:"fit,omitempty" json:"fit,omitempty"`
	Exposure ExposureData `yaml:"exposure,omitempty" json:"exposure,omitempty"`
	Pattern  PatternData  `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// JumpData holds the jump-detection parameters. The threshold's two
// parameters set its dependence on the estimated signal rate.
type JumpData struct {
	ThresholdIntercept float64 `yaml:"threshold_intercept" json:"threshold_intercept"`
	ThresholdSlope     float64 `yaml:"threshold_slope" json:"threshold_slope"`
	MaxIterations      int     `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MinSegment         int     `yaml:"min_segment,omitempty" json:"min_segment,omitempty"`
}

// FitData holds the segment-fit parameters.
type FitData struct {
	Model         string  `yaml:"model,omitempty" json:"model,omitempty"`
	VarianceFloor float64 `yaml:"variance_floor,omitempty" json:"variance_floor,omitempty"`
}

// ExposureData holds the frame-level scheduling parameters.
type ExposureData struct {
	Workers   int `yaml:"workers,omitempty" json:"workers,omitempty"`
	BlockRows int `yaml:"block_rows,omitempty" json:"block_rows,omitempty"`
}

// PatternData describes the readout: the read interval in seconds and how
// many raw reads average into each successive resultant.
type PatternData struct {
	ReadTime          float64 `yaml:"read_time" json:"read_time"`
	ReadsPerResultant []int   `yaml:"reads_per_resultant" json:"reads_per_resultant"`
}

// Default returns the published defaults: threshold 5.5 - (1/3)log10(rate),
// two-parameter fit, one read per resultant at 3.04 s cadence.
func Default() *Config {
	return &Config{
		Jump: JumpData{
			ThresholdIntercept: 5.5,
			ThresholdSlope:     1.0 / 3.0,
			MinSegment:         1,
		},
		Fit: FitData{Model: ModelTwoParameter},
		Pattern: PatternData{
			ReadTime:          3.04,
			ReadsPerResultant: []int{1},
		},
	}
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.Jump.ThresholdIntercept <= 0 {
		return fmt.Errorf("jump.threshold_intercept must be positive, got %g", c.Jump.ThresholdIntercept)
	}
	if c.Jump.ThresholdSlope < 0 {
		return fmt.Errorf("jump.threshold_slope must be non-negative, got %g", c.Jump.ThresholdSlope)
	}
	if c.Jump.MaxIterations < 0 {
		return fmt.Errorf("jump.max_iterations must be non-negative, got %d", c.Jump.MaxIterations)
	}
	switch c.Fit.Model {
	case "", ModelTwoParameter, ModelRateOnly:
	default:
		return fmt.Errorf("fit.model %q unknown", c.Fit.Model)
	}
	if c.Fit.VarianceFloor < 0 {
		return fmt.Errorf("fit.variance_floor must be non-negative, got %g", c.Fit.VarianceFloor)
	}
	if c.Pattern.ReadTime <= 0 {
		return fmt.Errorf("pattern.read_time must be positive, got %g", c.Pattern.ReadTime)
	}
	for i, n := range c.Pattern.ReadsPerResultant {
		if n < 1 {
			return fmt.Errorf("pattern.reads_per_resultant[%d] must be at least 1, got %d", i, n)
		}
	}
	return nil
}
