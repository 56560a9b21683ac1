// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"math"
	"sync"
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// dampenState tracks one canonical path's repeat-deletion history.
type dampenState struct {
	lastDeletion time.Time
	cycles       int
}

// Dampener imposes an exponential-backoff cooldown on repeat
// deletions at the same canonical path, modeled after the 24-hour
// rolling-window resize tracker but keyed by unbounded history instead
// of a fixed window, since cooldowns here grow rather than just count.
type Dampener struct {
	mu         sync.Mutex
	byPath     map[string]*dampenState
	baseSecs   int
	maxSecs    int
	now        func() time.Time
}

// NewDampener builds a dampener with the configured base and max
// cooldowns (seconds).
func NewDampener(baseSecs, maxSecs int) *Dampener {
	return &Dampener{
		byPath:   make(map[string]*dampenState),
		baseSecs: baseSecs,
		maxSecs:  maxSecs,
		now:      time.Now,
	}
}

// Allow reports whether a deletion at path may proceed right now.
// Red and Critical pressure bypass dampening entirely — a cooldown
// must never block an emergency reclaim.
func (d *Dampener) Allow(path string, level v1.PressureLevel) bool {
	if level == v1.PressureRed || level == v1.PressureCritical {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.byPath[path]
	if !ok {
		return true // first deletion at this path is always free
	}

	cooldown := d.cooldownFor(st.cycles)
	return d.now().Sub(st.lastDeletion) >= cooldown
}

// RecordDeletion marks a successful deletion at path, advancing its
// cycle count for the next cooldown computation.
func (d *Dampener) RecordDeletion(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.byPath[path]
	if !ok {
		d.byPath[path] = &dampenState{lastDeletion: d.now(), cycles: 1}
		return
	}
	st.cycles++
	st.lastDeletion = d.now()
}

// cooldownFor computes base * 2^(cycles-1), capped at maxSecs.
func (d *Dampener) cooldownFor(cycles int) time.Duration {
	if cycles <= 0 {
		return 0
	}
	secs := float64(d.baseSecs) * math.Pow(2, float64(cycles-1))
	if secs > float64(d.maxSecs) {
		secs = float64(d.maxSecs)
	}
	return time.Duration(secs) * time.Second
}

// Prune drops dampening state for any path whose last deletion is
// older than the configured max cooldown, so long-idle paths do not
// leak memory forever.
func (d *Dampener) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Duration(d.maxSecs) * time.Second
	for path, st := range d.byPath {
		if d.now().Sub(st.lastDeletion) > cutoff {
			delete(d.byPath, path)
		}
	}
}
