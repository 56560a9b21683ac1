// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"sync"
	"time"
)

// consecutiveErrorsToTrip is the number of consecutive deletion
// *errors* (never mere skips/vetoes) that trips the breaker.
const consecutiveErrorsToTrip = 3

// breakerCooldown is how long the breaker holds the batch open once
// tripped.
const breakerCooldown = 30 * time.Second

// CircuitBreaker halts the delete batch after repeated execution
// errors and imposes a cooldown before resuming.
type CircuitBreaker struct {
	mu           sync.Mutex
	consecutive  int
	trippedUntil time.Time
	now          func() time.Time
}

// NewCircuitBreaker constructs a breaker using the wall clock.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{now: time.Now}
}

// Allow reports whether the executor may attempt another deletion
// right now.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.trippedUntil)
}

// RecordSuccess resets the consecutive-error counter. A skip (veto)
// must never call this path nor RecordError — only true execution
// outcomes move the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// RecordError increments the consecutive-error counter and trips the
// breaker once it reaches consecutiveErrorsToTrip.
func (b *CircuitBreaker) RecordError() (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= consecutiveErrorsToTrip {
		b.trippedUntil = b.now().Add(breakerCooldown)
		b.consecutive = 0
		return true
	}
	return false
}

// TrippedUntil reports the instant the breaker will next allow a
// deletion, or the zero time if it is not currently tripped.
func (b *CircuitBreaker) TrippedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().After(b.trippedUntil) {
		return time.Time{}
	}
	return b.trippedUntil
}
