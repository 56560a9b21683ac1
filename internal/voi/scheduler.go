// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package voi

import (
	"sync"
	"time"
)

// Scheduler owns the per-root statistics, the fallback tracker, and
// the round-robin cursor, and is the package's single entry point for
// "what should I scan this cycle."
type Scheduler struct {
	mu          sync.Mutex
	stats       map[string]*RootStats
	weights     Weights
	fallback    *FallbackTracker
	rrLastIndex int
}

// NewScheduler builds a scheduler for the given roots.
func NewScheduler(roots []string, weights Weights) *Scheduler {
	stats := make(map[string]*RootStats, len(roots))
	for _, r := range roots {
		stats[r] = &RootStats{Root: r}
	}
	return &Scheduler{
		stats:       stats,
		weights:     weights,
		fallback:    NewFallbackTracker(),
		rrLastIndex: -1,
	}
}

// Snapshot is a persistable view of one root's rolling scan statistics.
type Snapshot struct {
	Root              string
	ExpectedReclaim   float64
	IOCostEstimate    float64
	FalsePositiveRate float64
	LastScanned       time.Time
	ScanCount         int64
}

// Snapshot returns a persistable copy of root's current statistics.
func (s *Scheduler) Snapshot(root string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[root]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Root:              st.Root,
		ExpectedReclaim:   st.ExpectedReclaim,
		IOCostEstimate:    st.IOCostEstimate,
		FalsePositiveRate: st.FalsePositiveRate,
		LastScanned:       st.LastScanned,
		ScanCount:         st.ScanCount.Load(),
	}, true
}

// Restore warm-starts the scheduler's per-root statistics from
// persisted snapshots, so a daemon restart does not reset every root
// back to cold-start exploration.
func (s *Scheduler) Restore(snapshots []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		st, ok := s.stats[snap.Root]
		if !ok {
			st = &RootStats{Root: snap.Root}
			s.stats[snap.Root] = st
		}
		st.ExpectedReclaim = snap.ExpectedReclaim
		st.IOCostEstimate = snap.IOCostEstimate
		st.FalsePositiveRate = snap.FalsePositiveRate
		st.LastScanned = snap.LastScanned
		st.ScanCount.Store(snap.ScanCount)
	}
}

// Observe records one scan outcome for root.
func (s *Scheduler) Observe(root string, instant time.Time, reclaimedBytes, ioCost float64, falsePositive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[root]
	if !ok {
		st = &RootStats{Root: root}
		s.stats[root] = st
	}
	st.Observe(instant, reclaimedBytes, ioCost, falsePositive)
}

// ObserveForecastError folds this cycle's forecast MAPE into the
// fallback tracker.
func (s *Scheduler) ObserveForecastError(mape float64) bool {
	return s.fallback.Observe(mape)
}

// Plan returns which roots to scan this cycle, given the per-cycle
// budget. It switches to round-robin while fallback is active.
func (s *Scheduler) Plan(budget int, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := make([]string, 0, len(s.stats))
	for r := range s.stats {
		roots = append(roots, r)
	}

	if s.fallback.Active() {
		picked, idx := RoundRobin(sortedRoots(roots), s.rrLastIndex, budget)
		s.rrLastIndex = idx
		return picked
	}

	statList := make([]*RootStats, 0, len(s.stats))
	for _, st := range s.stats {
		statList = append(statList, st)
	}
	return Allocate(statList, s.weights, budget, now)
}

func sortedRoots(roots []string) []string {
	out := append([]string(nil), roots...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
