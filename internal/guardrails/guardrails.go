// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package guardrails tracks whether the forecaster's predictions are
// still trustworthy: a rolling calibration window classifies recent
// accuracy as Unknown/Pass/Fail, and an e-process sequential test
// raises an anytime-valid alarm on sustained drift.
package guardrails

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/atomic"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// windowSize is the rolling observation window width.
const windowSize = 50

// goodObservationsForPass is how many observations the window must
// hold (without having failed) before it can leave Unknown for Pass;
// every observation in the window counts, not only good ones.
const goodObservationsForPass = 10

// rateErrorFailThreshold and conservativeFractionFailThreshold define
// the Fail transition.
const (
	rateErrorFailThreshold          = 0.30
	conservativeFractionFailThreshold = 0.70
)

// idleRateFloor marks both predicted and actual rates as idle noise,
// exempt from the rate-error check.
const idleRateFloor = 1.0

// Observation is one window's predicted-vs-actual comparison.
type Observation struct {
	PredictedRateBps float64
	ActualRateBps    float64
	PredictedTTE     float64 // seconds; 0 means "no prediction made"
	ActualTTE        float64
	HadPrediction    bool
}

// RateError computes |predicted-actual|/max(|actual|,eps). It returns
// (0, false) if both rates are idle noise and the observation should
// be ignored.
func (o Observation) RateError() (float64, bool) {
	if math.Abs(o.PredictedRateBps) < idleRateFloor && math.Abs(o.ActualRateBps) < idleRateFloor {
		return 0, false
	}
	denom := math.Max(math.Abs(o.ActualRateBps), 1e-9)
	return math.Abs(o.PredictedRateBps-o.ActualRateBps) / denom, true
}

// Conservative reports whether this observation's prediction was
// conservative (over-estimated time to exhaustion is fine;
// under-estimating is not).
func (o Observation) Conservative() bool {
	if !o.HadPrediction {
		return true
	}
	return o.PredictedTTE <= o.ActualTTE
}

// Tracker holds the rolling window and e-process state for one mount.
// eLog and the good/bad window counters are kept as atomics so the
// daemon's observer goroutine can update them while the state-file
// writer goroutine reads a snapshot without contending on the window
// mutex.
type Tracker struct {
	mu     sync.Mutex
	window []Observation
	status v1.GuardStatus

	eLog      atomic.Float64
	goodCount atomic.Int64
	badCount  atomic.Int64
}

// NewTracker starts a tracker in the Unknown state.
func NewTracker() *Tracker {
	return &Tracker{status: v1.GuardUnknown}
}

// Observe folds one window's observation into the rolling state,
// recomputing calibration status and advancing the e-process.
func (t *Tracker) Observe(obs Observation) v1.GuardState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, obs)
	if len(t.window) > windowSize {
		t.window = t.window[len(t.window)-windowSize:]
	}

	t.recomputeStatus()
	t.advanceEProcess(obs)

	return t.snapshot()
}

func (t *Tracker) recomputeStatus() {
	var errors []float64
	conservativeCount, evaluated := 0, 0

	for _, obs := range t.window {
		if errRate, ok := obs.RateError(); ok {
			errors = append(errors, errRate)
		}
		evaluated++
		if obs.Conservative() {
			conservativeCount++
		}
	}

	if evaluated == 0 {
		return
	}

	conservativeFraction := float64(conservativeCount) / float64(evaluated)
	medianErr := median(errors)

	switch t.status {
	case v1.GuardUnknown:
		if len(t.window) >= goodObservationsForPass && medianErr < rateErrorFailThreshold && conservativeFraction >= conservativeFractionFailThreshold {
			t.status = v1.GuardPass
		}
		if medianErr >= rateErrorFailThreshold || conservativeFraction < conservativeFractionFailThreshold {
			t.status = v1.GuardFail
		}
	case v1.GuardPass:
		if medianErr >= rateErrorFailThreshold || conservativeFraction < conservativeFractionFailThreshold {
			t.status = v1.GuardFail
		}
	case v1.GuardFail:
		if medianErr < rateErrorFailThreshold && conservativeFraction >= conservativeFractionFailThreshold {
			t.status = v1.GuardPass
		}
	}
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// eProcess step sizes, in log space.
var (
	logGoodStep = math.Log(0.8)
	logBadStep  = math.Log(1.5)
)

// eProcessAlarmThreshold is the exp(e_log) level that trips the
// guardrail alarm.
const eProcessAlarmThreshold = 20.0

const (
	eLogClampLow  = -5.0
	eLogClampHigh = 5.0
)

func (t *Tracker) advanceEProcess(obs Observation) {
	errRate, ok := obs.RateError()
	good := !ok || (errRate < rateErrorFailThreshold && obs.Conservative())

	var next float64
	if good {
		t.goodCount.Inc()
		next = t.eLog.Load() + logGoodStep
	} else {
		t.badCount.Inc()
		next = t.eLog.Load() + logBadStep
	}
	if next < eLogClampLow {
		next = eLogClampLow
	}
	if next > eLogClampHigh {
		next = eLogClampHigh
	}
	t.eLog.Store(next)
}

// Alarmed reports whether the e-process has crossed its alarm
// threshold.
func (t *Tracker) Alarmed() bool {
	return math.Exp(t.eLog.Load()) >= eProcessAlarmThreshold
}

// ResetOnRecovery zeroes the e-process after a fallback recovery, so
// historical drift does not bias future detection.
func (t *Tracker) ResetOnRecovery() {
	t.eLog.Store(0)
	t.goodCount.Store(0)
	t.badCount.Store(0)
}

// GoodBadCounts returns the cumulative good/bad window counts since
// the last reset.
func (t *Tracker) GoodBadCounts() (good, bad int64) {
	return t.goodCount.Load(), t.badCount.Load()
}

// Status returns the current calibration status.
func (t *Tracker) Status() v1.GuardStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// State returns a persistable snapshot of the tracker's status and
// e-process log.
func (t *Tracker) State() v1.GuardState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Restore warm-starts the tracker's status and e-process log from a
// persisted state. The rolling observation window itself is not
// restored — it repopulates from fresh ticks — but e_log carries
// forward, so a crash-loop cannot be used to evade drift detection by
// resetting it to 0.
func (t *Tracker) Restore(state v1.GuardState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = state.Status
	t.eLog.Store(state.ELog)
}

func (t *Tracker) snapshot() v1.GuardState {
	rateErrors := make([]float64, 0, len(t.window))
	conservativeFlags := make([]bool, 0, len(t.window))
	for _, obs := range t.window {
		if e, ok := obs.RateError(); ok {
			rateErrors = append(rateErrors, e)
		}
		conservativeFlags = append(conservativeFlags, obs.Conservative())
	}
	return v1.GuardState{
		Status:                t.status,
		ELog:                  t.eLog.Load(),
		RateErrorWindow:       rateErrors,
		TTEConservativeWindow: conservativeFlags,
	}
}
