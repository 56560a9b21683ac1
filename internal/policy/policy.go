// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the progressive-delivery mode machine that
// gates deletions: Observe (shadow only) -> Canary (rate-capped) ->
// Enforce (uncapped), with an automatic FallbackSafe mode that drops
// out of the promotion ladder entirely. Promotion between Observe,
// Canary, and Enforce is always an explicit operator action; demotion
// and FallbackSafe recovery are automatic.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// consecutiveFailWindowsForDemotion is how many consecutive Fail guard
// windows force an automatic demotion to FallbackSafe.
const consecutiveFailWindowsForDemotion = 3

// ErrIllegalPromotion is returned when an operator asks for a
// promotion the mode machine does not allow.
var ErrIllegalPromotion = errors.New("policy: illegal promotion")

// ErrCanaryBudgetExceeded is returned by RecordDeletion when the
// canary rate cap has been reached for the current window.
var ErrCanaryBudgetExceeded = errors.New("policy: canary delete budget exceeded")

var modeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sbh_policy_mode_transitions_total",
	Help: "Count of policy engine mode transitions, labeled by origin and destination mode.",
}, []string{"from", "to"})

// Collector exposes the package's prometheus metrics for registration
// by the daemon.
func Collector() prometheus.Collector {
	return modeTransitions
}

// Engine owns the current policy mode and the guard-window bookkeeping
// that drives automatic demotion and FallbackSafe recovery.
type Engine struct {
	mu sync.Mutex

	mode v1.PolicyMode

	consecutiveFail  int
	consecutiveClean int
	recoveryWindows  int

	canaryCapPerHour int
	canaryTimestamps []time.Time

	killSwitch bool

	now func() time.Time
}

// NewEngine builds a policy engine seeded at initialMode.
// canaryCapPerHour is the Canary-mode deletion rate cap; recoveryWindows
// is how many consecutive clean guard windows are required to leave
// FallbackSafe.
func NewEngine(initialMode v1.PolicyMode, canaryCapPerHour, recoveryWindows int) *Engine {
	if recoveryWindows <= 0 {
		recoveryWindows = 3
	}
	return &Engine{
		mode:             initialMode,
		canaryCapPerHour: canaryCapPerHour,
		recoveryWindows:  recoveryWindows,
		now:              time.Now,
	}
}

// Mode returns the current policy mode.
func (e *Engine) Mode() v1.PolicyMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// legalPromotions lists the transitions an operator may request
// explicitly, both forward and back down (e.g. Enforce to Canary or
// Observe). FallbackSafe is never a promotion target; it is
// only entered automatically.
var legalPromotions = map[v1.PolicyMode]map[v1.PolicyMode]bool{
	v1.PolicyObserve: {v1.PolicyCanary: true},
	v1.PolicyCanary:  {v1.PolicyObserve: true, v1.PolicyEnforce: true},
	v1.PolicyEnforce: {v1.PolicyCanary: true, v1.PolicyObserve: true},
}

// Promote requests an explicit operator-driven mode change. It refuses
// any transition into or out of FallbackSafe, since that mode is
// reserved for the automatic demotion/recovery path.
func (e *Engine) Promote(target v1.PolicyMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == v1.PolicyFallbackSafe || target == v1.PolicyFallbackSafe {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPromotion, e.mode, target)
	}
	if !legalPromotions[e.mode][target] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPromotion, e.mode, target)
	}

	e.transitionLocked(target)
	return nil
}

// ObserveGuardStatus folds one guardrails calibration window's status
// into the demotion/recovery bookkeeping, returning the (possibly
// unchanged) mode after applying it.
func (e *Engine) ObserveGuardStatus(status v1.GuardStatus) v1.PolicyMode {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch status {
	case v1.GuardFail:
		e.consecutiveClean = 0
		e.consecutiveFail++
		if e.consecutiveFail >= consecutiveFailWindowsForDemotion && e.mode != v1.PolicyFallbackSafe {
			e.transitionLocked(v1.PolicyFallbackSafe)
		}
	case v1.GuardPass:
		e.consecutiveFail = 0
		e.consecutiveClean++
		if e.mode == v1.PolicyFallbackSafe && e.consecutiveClean >= e.recoveryWindows {
			e.consecutiveClean = 0
			e.transitionLocked(v1.PolicyCanary)
		}
	case v1.GuardUnknown:
		e.consecutiveClean = 0
	}

	return e.mode
}

// ObserveGuardAlarm demotes immediately to FallbackSafe on an
// e-process drift alarm, bypassing the consecutive-window count.
func (e *Engine) ObserveGuardAlarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != v1.PolicyFallbackSafe {
		e.transitionLocked(v1.PolicyFallbackSafe)
	}
}

// RecordStateWriteFailure demotes to FallbackSafe; a failed state
// write can indicate the target volume itself is out of space.
func (e *Engine) RecordStateWriteFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != v1.PolicyFallbackSafe {
		e.transitionLocked(v1.PolicyFallbackSafe)
	}
}

// SetKillSwitch toggles the operator/env kill switch. Engaging it
// demotes to FallbackSafe; disengaging it does not itself recover
// the mode, since recovery still requires clean guard windows.
func (e *Engine) SetKillSwitch(engaged bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = engaged
	if engaged && e.mode != v1.PolicyFallbackSafe {
		e.transitionLocked(v1.PolicyFallbackSafe)
	}
}

// AllowDeletion reports whether the current mode permits shadow
// decisions to execute as real deletions at all. Canary additionally
// requires RecordDeletion to succeed against its rate cap.
func (e *Engine) AllowDeletion() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == v1.PolicyCanary || e.mode == v1.PolicyEnforce
}

// RecordDeletion accounts for one deletion against the Canary rate
// cap. It is a no-op outside Canary mode. Exceeding the cap demotes
// to FallbackSafe and returns ErrCanaryBudgetExceeded.
func (e *Engine) RecordDeletion() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != v1.PolicyCanary {
		return nil
	}

	now := e.now()
	e.canaryTimestamps = pruneOlderThan(e.canaryTimestamps, now, time.Hour)
	if len(e.canaryTimestamps) >= e.canaryCapPerHour {
		e.transitionLocked(v1.PolicyFallbackSafe)
		return ErrCanaryBudgetExceeded
	}
	e.canaryTimestamps = append(e.canaryTimestamps, now)
	return nil
}

// RemainingCanaryBudget reports how many more deletions Canary mode
// will allow within the current rolling hour.
func (e *Engine) RemainingCanaryBudget() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canaryTimestamps = pruneOlderThan(e.canaryTimestamps, e.now(), time.Hour)
	remaining := e.canaryCapPerHour - len(e.canaryTimestamps)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GuardPenalty returns the additive penalty, carried in
// scoring.DecideParams, that scoring.Decide adds to E[loss|delete] for
// every candidate while guard status is non-Pass.
func GuardPenalty(status v1.GuardStatus, basePenalty float64) float64 {
	if status == v1.GuardPass {
		return 0
	}
	return basePenalty
}

func (e *Engine) transitionLocked(target v1.PolicyMode) {
	if target == e.mode {
		return
	}
	modeTransitions.WithLabelValues(string(e.mode), string(target)).Inc()
	e.mode = target
}

func pruneOlderThan(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
