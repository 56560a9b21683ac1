// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package voi

import "go.uber.org/atomic"

// mapeFallbackThreshold is the forecast mean-absolute-percentage-error
// above which the scheduler distrusts its own utility estimates.
const mapeFallbackThreshold = 0.50

const (
	fallbackTriggerWindows = 3
	fallbackRecoverWindows = 5
)

// FallbackTracker watches a rolling count of consecutive
// high-forecast-error windows and flips the scheduler into plain
// round-robin once the forecaster looks untrustworthy, recovering
// only after a longer run of clean windows.
type FallbackTracker struct {
	consecutiveBad  atomic.Int64
	consecutiveGood atomic.Int64
	active          atomic.Bool
}

// NewFallbackTracker constructs a tracker starting in VOI-scheduling
// mode.
func NewFallbackTracker() *FallbackTracker {
	return &FallbackTracker{}
}

// Observe folds one window's forecast MAPE into the tracker and
// returns whether round-robin fallback is active after this
// observation.
func (t *FallbackTracker) Observe(mape float64) bool {
	if mape > mapeFallbackThreshold {
		t.consecutiveBad.Add(1)
		t.consecutiveGood.Store(0)
		if t.consecutiveBad.Load() >= fallbackTriggerWindows {
			t.active.Store(true)
		}
		return t.active.Load()
	}

	t.consecutiveBad.Store(0)
	if t.active.Load() {
		t.consecutiveGood.Add(1)
		if t.consecutiveGood.Load() >= fallbackRecoverWindows {
			t.active.Store(false)
			t.consecutiveGood.Store(0)
		}
	}
	return t.active.Load()
}

// Active reports whether round-robin fallback is currently engaged.
func (t *FallbackTracker) Active() bool {
	return t.active.Load()
}

// RoundRobin picks the next `budget` roots in simple rotating order,
// starting just after `lastIndex`, and returns the new lastIndex to
// resume from next cycle.
func RoundRobin(roots []string, lastIndex int, budget int) ([]string, int) {
	if len(roots) == 0 || budget <= 0 {
		return nil, lastIndex
	}
	n := len(roots)
	if budget > n {
		budget = n
	}
	picked := make([]string, 0, budget)
	idx := lastIndex
	for i := 0; i < budget; i++ {
		idx = (idx + 1) % n
		picked = append(picked, roots[idx])
	}
	return picked, idx
}
