// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package daemon wires the monitor/scanner/executor/logger worker
// loop, the self-monitor, and the atomic state-file writer for the
// resident process.
package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// respawnBudget and respawnWindow bound how many times a worker may
// panic and be restarted before the daemon gives up and shuts down
// cleanly.
const (
	respawnBudget = 3
	respawnWindow = 5 * time.Minute
)

// Worker is one cooperating loop in the daemon (Monitor, Scanner,
// Executor, or Logger).
type Worker struct {
	Name string
	Run  func(stop <-chan struct{}) error

	mu       sync.Mutex
	respawns []time.Time
}

// Supervise runs w.Run in a loop, recovering from panics and
// respawning within budget. It returns when stop is closed or the
// respawn budget is exhausted (in which case an error naming the
// worker and wrapping its last failure is returned so the daemon can
// shut down cleanly).
func (w *Worker) Supervise(stop <-chan struct{}, onHeartbeat func(name string, at time.Time)) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		err := w.runOnce(stop, onHeartbeat)
		if err == nil {
			return nil
		}

		select {
		case <-stop:
			return nil
		default:
		}

		if !w.recordRespawn() {
			return fmt.Errorf("daemon: worker %q exceeded respawn budget (%d in %s): %w", w.Name, respawnBudget, respawnWindow, err)
		}
		log.Error(err, "worker panicked, respawning", "worker", w.Name)
	}
}

func (w *Worker) runOnce(stop <-chan struct{}, onHeartbeat func(name string, at time.Time)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if onHeartbeat != nil {
		onHeartbeat(w.Name, time.Now())
	}
	return w.Run(stop)
}

// recordRespawn prunes respawn timestamps older than respawnWindow and
// records a new one, returning false once the budget is exceeded.
func (w *Worker) recordRespawn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-respawnWindow)
	kept := w.respawns[:0]
	for _, t := range w.respawns {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.respawns = append(kept, now)
	return len(w.respawns) <= respawnBudget
}

// RespawnCount returns how many respawns are currently counted within
// the rolling window.
func (w *Worker) RespawnCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.respawns)
}
