// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"fmt"
	"math"

	"github.com/Masterminds/semver/v3"
)

// ConfigSchemaVersion is the current config/state schema version.
// Bump on any breaking field change. Config.Validate only checks that
// the value parses as a semantic version; no reader compares it with a
// version constraint, so a file from another major version is not
// rejected.
const ConfigSchemaVersion = "1.0.0"

// MonitorConfig controls pressure sampling.
type MonitorConfig struct {
	SampleIntervalSeconds int     `yaml:"sample_interval_seconds"`
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
	PressureGreenPct      float64 `yaml:"pressure_green_pct"`
	PressureYellowPct     float64 `yaml:"pressure_yellow_pct"`
	PressureOrangePct     float64 `yaml:"pressure_orange_pct"`
	PressureRedPct        float64 `yaml:"pressure_red_pct"`
	FreeMetric            string  `yaml:"free_metric"`
}

// ScannerConfig controls the parallel walker.
type ScannerConfig struct {
	WatchedPaths                 []string `yaml:"watched_paths"`
	CrossDevice                  bool     `yaml:"cross_device"`
	Parallelism                  int      `yaml:"parallelism"`
	MaxDepth                     int      `yaml:"max_depth"`
	ExcludedPaths                []string `yaml:"excluded_paths"`
	ProtectedGlobs                []string `yaml:"protected_paths_globs"`
	RepeatDeletionBaseCooldownSecs int    `yaml:"repeat_deletion_base_cooldown_secs"`
	RepeatDeletionMaxCooldownSecs  int    `yaml:"repeat_deletion_max_cooldown_secs"`
}

// ScoringWeights are the five composite-score factor weights. Must sum
// to 1.0 and each be non-negative.
type ScoringWeights struct {
	Location  float64 `yaml:"location"`
	Name      float64 `yaml:"name"`
	Age       float64 `yaml:"age"`
	Size      float64 `yaml:"size"`
	Structure float64 `yaml:"structure"`
}

// ScoringConfig wraps the weights plus the asymmetric loss defaults.
type ScoringConfig struct {
	Weights            ScoringWeights `yaml:"weights"`
	FalsePositiveLoss  float64        `yaml:"false_positive_loss"`
	FalseNegativeLoss  float64        `yaml:"false_negative_loss"`
}

// BallastConfig controls per-volume ballast provisioning.
type BallastConfig struct {
	AutoProvision       bool                  `yaml:"auto_provision"`
	PerVolumeFileCount  int                   `yaml:"per_volume_file_count"`
	PerVolumeFileSizeMB int                   `yaml:"per_volume_file_size_mb"`
	PerMountOverrides   map[string]BallastConfig `yaml:"per_mount_overrides,omitempty"`
}

// PolicyConfig seeds the policy engine's initial mode.
type PolicyConfig struct {
	Mode                    string `yaml:"mode"`
	CanaryDeleteCapPerHour  int    `yaml:"canary_delete_cap_per_hour"`
	FallbackSafe            bool   `yaml:"fallback_safe"`
}

// GuardrailsConfig controls the calibration and recovery thresholds.
type GuardrailsConfig struct {
	CalibrationFloor                 float64 `yaml:"calibration_floor"`
	ConsecutiveCleanWindowsForRecovery int   `yaml:"consecutive_clean_windows_for_recovery"`
	MinScore                         float64 `yaml:"min_score"`
}

// PressurePredictionConfig controls the forecaster's predictive boost.
type PressurePredictionConfig struct {
	Enabled                bool    `yaml:"enabled"`
	ActionHorizonMinutes   int     `yaml:"action_horizon_minutes"`
	WarningHorizonMinutes  int     `yaml:"warning_horizon_minutes"`
	MinConfidence          float64 `yaml:"min_confidence"`
	MinSamples             int     `yaml:"min_samples"`
	ImminentDangerMinutes  int     `yaml:"imminent_danger_minutes"`
	CriticalDangerMinutes  int     `yaml:"critical_danger_minutes"`
}

// SchedulerConfig controls the VOI scan scheduler.
type SchedulerConfig struct {
	Enabled                   bool    `yaml:"enabled"`
	ScanBudgetPerInterval     int     `yaml:"scan_budget_per_interval"`
	ExplorationQuotaFraction  float64 `yaml:"exploration_quota_fraction"`
	WeightReclaim             float64 `yaml:"weight_reclaim"`
	WeightIOCost              float64 `yaml:"weight_io_cost"`
	WeightFalsePositive       float64 `yaml:"weight_false_positive"`
	ForecastErrorThreshold    float64 `yaml:"forecast_error_threshold"`
	FallbackTriggerWindows    int     `yaml:"fallback_trigger_windows"`
	RecoveryTriggerWindows    int     `yaml:"recovery_trigger_windows"`
}

// LoggingConfig names the two activity-log sink locations.
type LoggingConfig struct {
	IndexedStorePath string `yaml:"indexed_store_path"`
	JournalPath      string `yaml:"journal_path"`
}

// Config is the full hierarchical daemon configuration, as read from
// the config file.
type Config struct {
	SchemaVersion string                    `yaml:"schema_version"`
	Monitor       MonitorConfig             `yaml:"monitor"`
	Scanner       ScannerConfig             `yaml:"scanner"`
	Scoring       ScoringConfig             `yaml:"scoring"`
	Ballast       BallastConfig             `yaml:"ballast"`
	Policy        PolicyConfig              `yaml:"policy"`
	Guardrails    GuardrailsConfig          `yaml:"guardrails"`
	Prediction    PressurePredictionConfig  `yaml:"pressure_prediction"`
	Scheduler     SchedulerConfig           `yaml:"scheduler"`
	Logging       LoggingConfig             `yaml:"logging"`
}

// Default returns a Config populated with the defaults named
// throughout the response table, scoring weights, and guardrail
// sections.
func Default() Config {
	return Config{
		SchemaVersion: ConfigSchemaVersion,
		Monitor: MonitorConfig{
			SampleIntervalSeconds: 5,
			PollIntervalMs:        1000,
			PressureGreenPct:      20,
			PressureYellowPct:     14,
			PressureOrangePct:     10,
			PressureRedPct:        6,
			FreeMetric:            string(FreeMetricAvailable),
		},
		Scanner: ScannerConfig{
			CrossDevice:                     false,
			Parallelism:                     4,
			MaxDepth:                        64,
			RepeatDeletionBaseCooldownSecs:  300,
			RepeatDeletionMaxCooldownSecs:   14400,
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeights{
				Location:  0.25,
				Name:      0.25,
				Age:       0.20,
				Size:      0.15,
				Structure: 0.15,
			},
			FalsePositiveLoss: 75,
			FalseNegativeLoss: 30,
		},
		Ballast: BallastConfig{
			AutoProvision:       true,
			PerVolumeFileCount:  4,
			PerVolumeFileSizeMB: 256,
		},
		Policy: PolicyConfig{
			Mode:                   "observe",
			CanaryDeleteCapPerHour: 10,
			FallbackSafe:           true,
		},
		Guardrails: GuardrailsConfig{
			CalibrationFloor:                    0.5,
			ConsecutiveCleanWindowsForRecovery:  3,
			MinScore:                            0.5,
		},
		Prediction: PressurePredictionConfig{
			Enabled:               true,
			ActionHorizonMinutes:  30,
			WarningHorizonMinutes: 60,
			MinConfidence:         0.5,
			MinSamples:            3,
			ImminentDangerMinutes: 10,
			CriticalDangerMinutes: 3,
		},
		Scheduler: SchedulerConfig{
			Enabled:                  true,
			ScanBudgetPerInterval:    5,
			ExplorationQuotaFraction: 0.2,
			WeightReclaim:            1.0,
			WeightIOCost:             0.3,
			WeightFalsePositive:      0.5,
			ForecastErrorThreshold:   0.5,
			FallbackTriggerWindows:   3,
			RecoveryTriggerWindows:   5,
		},
		Logging: LoggingConfig{
			IndexedStorePath: "/var/lib/sbh/activity.db",
			JournalPath:      "/var/lib/sbh/journal.jsonl",
		},
	}
}

// Validate rejects configurations that cannot drive a sound decision:
// weights that do not sum to 1.0, negative weights, pressure
// thresholds outside [0,100], and a min_score above the calibration
// floor.
func (c Config) Validate() error {
	if _, err := semver.NewVersion(c.SchemaVersion); err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", c.SchemaVersion, err)
	}

	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"location": w.Location, "name": w.Name, "age": w.Age,
		"size": w.Size, "structure": w.Structure,
	} {
		if v < 0 {
			return fmt.Errorf("scoring weight %q must be non-negative, got %v", name, v)
		}
	}
	sum := w.Location + w.Name + w.Age + w.Size + w.Structure
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %v", sum)
	}

	for name, v := range map[string]float64{
		"pressure_green_pct":  c.Monitor.PressureGreenPct,
		"pressure_yellow_pct": c.Monitor.PressureYellowPct,
		"pressure_orange_pct": c.Monitor.PressureOrangePct,
		"pressure_red_pct":    c.Monitor.PressureRedPct,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within [0,100], got %v", name, v)
		}
	}

	if c.Guardrails.MinScore > c.Guardrails.CalibrationFloor {
		return fmt.Errorf("guardrails.min_score (%v) must not exceed calibration_floor (%v)",
			c.Guardrails.MinScore, c.Guardrails.CalibrationFloor)
	}

	switch c.Monitor.FreeMetric {
	case string(FreeMetricFree), string(FreeMetricAvailable), "":
	default:
		return fmt.Errorf("monitor.free_metric must be %q or %q, got %q",
			FreeMetricFree, FreeMetricAvailable, c.Monitor.FreeMetric)
	}

	return nil
}

// ResolvedFreeMetric returns the configured free metric, defaulting to
// available_bytes when unset.
func (c Config) ResolvedFreeMetric() FreeMetric {
	if c.Monitor.FreeMetric == string(FreeMetricFree) {
		return FreeMetricFree
	}
	return FreeMetricAvailable
}
