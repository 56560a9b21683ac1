// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package pidctl

import (
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// Thresholds holds the configured pressure-level boundaries, as free
// percentage cutoffs.
type Thresholds struct {
	GreenPct, YellowPct, OrangePct, RedPct float64
}

// Classify derives the pressure level purely from freePct against the
// configured thresholds. Critical triggers when free drops below half
// the Red threshold.
func Classify(freePct float64, t Thresholds) v1.PressureLevel {
	switch {
	case freePct <= t.RedPct/2:
		return v1.PressureCritical
	case freePct <= t.RedPct:
		return v1.PressureRed
	case freePct <= t.OrangePct:
		return v1.PressureOrange
	case freePct <= t.YellowPct:
		return v1.PressureYellow
	default:
		return v1.PressureGreen
	}
}

// baseTable returns the default response policy for each level, given
// a base scan interval. Ballast release scales with urgency for
// Yellow, Orange and Red (Critical releases a fixed count); max delete
// batch scales with urgency for Red and Critical.
func baseTable(baseInterval time.Duration, urgency float64) map[v1.PressureLevel]v1.ResponsePolicy {
	return map[v1.PressureLevel]v1.ResponsePolicy{
		v1.PressureGreen: {
			Level: v1.PressureGreen, ScanInterval: baseInterval,
			BallastRelease: 0, MaxDeleteBatch: 2,
		},
		v1.PressureYellow: {
			Level: v1.PressureYellow, ScanInterval: baseInterval / 2,
			BallastRelease: tierCount(urgency, 0, 1), MaxDeleteBatch: 5,
		},
		v1.PressureOrange: {
			Level: v1.PressureOrange, ScanInterval: baseInterval / 4,
			BallastRelease: tierCount(urgency, 1, 3), MaxDeleteBatch: 10,
		},
		v1.PressureRed: {
			Level: v1.PressureRed, ScanInterval: baseInterval / 8,
			BallastRelease: tierCount(urgency, 3, 5), MaxDeleteBatch: 20 + int(urgency*20),
		},
		v1.PressureCritical: {
			Level: v1.PressureCritical, ScanInterval: 100 * time.Millisecond,
			BallastRelease: 10, MaxDeleteBatch: 40 + int(urgency*40),
		},
	}
}

func tierCount(urgency float64, lo, hi int) int {
	return lo + int(urgency*float64(hi-lo))
}

// ResponseFor returns the configured response policy for a pressure
// level and current urgency.
func ResponseFor(level v1.PressureLevel, urgency float64, baseInterval time.Duration) v1.ResponsePolicy {
	return baseTable(baseInterval, urgency)[level]
}

// PredictiveBoost clamps urgency to at least 0.70 when the forecaster
// predicts Red within the action horizon with sufficient confidence.
// Never boosts from an Uncertain forecast.
func PredictiveBoost(urgency float64, predictedRedWithinHorizon bool, forecastConfidence float64, minConfidence float64, uncertain bool) float64 {
	if uncertain || predictedRedWithinHorizon && forecastConfidence < minConfidence {
		return urgency
	}
	if predictedRedWithinHorizon && urgency < 0.70 {
		return 0.70
	}
	return urgency
}
