// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package forecast implements the burstiness-adaptive EWMA pressure
// forecaster and its quadratic time-to-exhaustion solver.
package forecast

import (
	"math"
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"
)

const (
	// DefaultAlpha is the unbiased smoothing factor at zero burstiness.
	DefaultAlpha = 0.3
	minAlpha     = 0.1
	maxAlpha     = 0.8

	minConfidence  = 0.2
	minSampleCount = 3

	accelStableBound = 64.0 // B/s^2
	recoveringBound  = -1.0 // B/s
)

// sample is one (instant, free-bytes) observation.
type sample struct {
	instant   time.Time
	freeBytes uint64
}

// Forecaster tracks a single mount's consumption rate and
// acceleration via burstiness-adaptive EWMA.
type Forecaster struct {
	alpha0 float64

	prev       *sample
	ewmaRate   float64
	ewmaAccel  float64
	residual   float64
	prevEWMA   float64
	sampleCount int
}

// New creates a Forecaster with the default base smoothing factor.
func New() *Forecaster {
	return &Forecaster{alpha0: DefaultAlpha}
}

// Observe ingests the next (instant, free_bytes) sample and returns
// the updated estimate.
func (f *Forecaster) Observe(instant time.Time, freeBytes uint64) v1.RateEstimate {
	cur := sample{instant: instant, freeBytes: freeBytes}

	if f.prev == nil {
		f.prev = &cur
		f.sampleCount = 1
		return f.estimate()
	}

	dt := instant.Sub(f.prev.instant).Seconds()
	if dt <= 0 {
		// Duplicate or out-of-order sample; do not update state, but
		// still report the current estimate.
		return f.estimate()
	}

	instRate := (float64(freeBytes) - float64(f.prev.freeBytes)) / dt
	// free_bytes shrinking means consumption, a positive rate in our
	// convention; invert the sign so "rate_bps" means bytes consumed
	// per second, with negative values meaning free space is recovering.
	instRate = -instRate

	burstiness := math.Abs(instRate-f.ewmaRate) / (math.Abs(f.ewmaRate) + 1)
	alpha := clamp(0.20*burstiness+f.alpha0, minAlpha, maxAlpha)

	// Residual against the PREVIOUS ewma, before updating it, per the
	// no-upward-bias requirement.
	f.residual = instRate - f.ewmaRate
	f.prevEWMA = f.ewmaRate

	newRate := alpha*instRate + (1-alpha)*f.ewmaRate

	if f.sampleCount >= 1 {
		rateDelta := (newRate - f.ewmaRate) / dt
		f.ewmaAccel = alpha*rateDelta + (1-alpha)*f.ewmaAccel
	}

	f.ewmaRate = newRate
	f.sampleCount++
	f.prev = &cur

	return f.estimate()
}

func (f *Forecaster) estimate() v1.RateEstimate {
	confidence := f.confidence()
	uncertain := confidence < minConfidence || f.sampleCount < minSampleCount

	return v1.RateEstimate{
		RateBps:      f.ewmaRate,
		AccelBps2:    f.ewmaAccel,
		Confidence:   confidence,
		SampleCount:  f.sampleCount,
		ResidualEWMA: f.residual,
		Uncertain:    uncertain,
	}
}

func (f *Forecaster) confidence() float64 {
	sampleAdequacy := clamp(float64(f.sampleCount)/float64(minSampleCount*3), 0, 1)

	residualGoodness := 1.0
	denom := math.Abs(f.prevEWMA) + 1
	if denom > 0 {
		residualGoodness = clamp(1-math.Abs(f.residual)/denom, 0, 1)
	}

	return 0.7*sampleAdequacy + 0.3*residualGoodness
}

// Trend classifies the current estimate for operator display.
func Trend(e v1.RateEstimate) v1.Trend {
	switch {
	case e.RateBps < recoveringBound:
		return v1.TrendRecovering
	case e.AccelBps2 > accelStableBound:
		return v1.TrendAccelerating
	case e.AccelBps2 < -accelStableBound:
		return v1.TrendDecelerating
	default:
		return v1.TrendStable
	}
}

// TimeToExhaustion solves distance = rate*t + 0.5*accel*t^2 for the
// smallest positive t, where distance is how many bytes must be
// consumed to cross thresholdBytes from currentBytes. Returns
// (duration, ok); ok is false when the estimate is uncertain or the
// mount is not on a trajectory toward the threshold (e.g. recovering,
// or decelerating to a stop before reaching it). A mount already at or
// below the threshold returns (0, true).
func TimeToExhaustion(e v1.RateEstimate, currentBytes, thresholdBytes uint64) (time.Duration, bool) {
	if e.Uncertain {
		return 0, false
	}
	if currentBytes <= thresholdBytes {
		return 0, true
	}

	distance := float64(currentBytes - thresholdBytes)
	rate := e.RateBps
	accel := e.AccelBps2

	if rate <= 0 && math.Abs(accel) < 1e-9 {
		// Not consuming and not accelerating toward exhaustion.
		return 0, false
	}

	if math.Abs(accel) < 1e-9 {
		// Linear fallback when acceleration is effectively zero.
		if rate <= 0 {
			return 0, false
		}
		return secondsToDuration(distance / rate), true
	}

	// distance = rate*t + 0.5*accel*t^2  =>  0.5*accel*t^2 + rate*t - distance = 0
	a := 0.5 * accel
	b := rate
	c := -distance

	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sqrtDisc := math.Sqrt(disc)

	// Numerically stable conjugate form to avoid catastrophic
	// cancellation when b and sqrtDisc are close in magnitude (which
	// happens as the discriminant approaches rate^2, i.e. when
	// |accel| is small relative to rate).
	var t1, t2 float64
	if b >= 0 {
		t1 = (-b - sqrtDisc) / (2 * a)
		t2 = (2 * c) / (-b - sqrtDisc)
	} else {
		t1 = (2 * c) / (-b + sqrtDisc)
		t2 = (-b + sqrtDisc) / (2 * a)
	}

	t := smallestPositive(t1, t2)
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false
	}
	return secondsToDuration(t), true
}

func smallestPositive(a, b float64) float64 {
	switch {
	case a > 0 && b > 0:
		return math.Min(a, b)
	case a > 0:
		return a
	case b > 0:
		return b
	default:
		return math.NaN()
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
