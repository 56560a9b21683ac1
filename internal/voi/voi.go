// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package voi implements the value-of-information scan scheduler: it
// tracks per-root utility statistics and allocates each cycle's scan
// budget between exploiting roots with the highest expected payoff
// and exploring roots that haven't been looked at in a while.
package voi

import (
	"sort"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/atomic"
)

// exploitFraction is the share of the per-cycle budget spent on the
// highest-utility roots; the remainder explores least-recently-scanned
// roots.
const exploitFraction = 0.80

// explorationCapHours bounds how much further the exploration bonus
// grows once a root has gone unscanned for this long.
const explorationCapHours = 24.0

// RootStats tracks one watched root's rolling scan statistics via
// EWMA, analogous to a rolling day-window budget tracker but carrying
// continuously-updated rates instead of discrete counts.
type RootStats struct {
	Root              string
	ExpectedReclaim   float64 // EWMA bytes reclaimed per scan
	IOCostEstimate    float64 // EWMA relative IO cost per scan
	FalsePositiveRate float64 // EWMA fraction of deletions later regretted
	LastScanned       time.Time
	ScanCount         atomic.Int64
}

const statsAlpha = 0.3

// Observe folds one scan's outcome into the rolling EWMA statistics.
func (s *RootStats) Observe(instant time.Time, reclaimedBytes float64, ioCost float64, falsePositive bool) {
	fpSample := 0.0
	if falsePositive {
		fpSample = 1.0
	}
	if s.ScanCount.Load() == 0 {
		s.ExpectedReclaim = reclaimedBytes
		s.IOCostEstimate = ioCost
		s.FalsePositiveRate = fpSample
	} else {
		s.ExpectedReclaim = statsAlpha*reclaimedBytes + (1-statsAlpha)*s.ExpectedReclaim
		s.IOCostEstimate = statsAlpha*ioCost + (1-statsAlpha)*s.IOCostEstimate
		s.FalsePositiveRate = statsAlpha*fpSample + (1-statsAlpha)*s.FalsePositiveRate
	}
	s.LastScanned = instant
	s.ScanCount.Add(1)
}

// Weights tunes the utility formula's cost and penalty terms.
type Weights struct {
	KIO float64
	KFP float64
}

// uncertaintyDiscount shrinks utility for roots with few observed
// scans, within [0.5, 1.0].
func uncertaintyDiscount(scanCount int64) float64 {
	if scanCount <= 0 {
		return 0.5
	}
	discount := 0.5 + 0.5*(1-1/(1+float64(scanCount)/5.0))
	return clamp(discount, 0.5, 1.0)
}

// explorationBonus grows with time since last scan (capped at 24h)
// and shrinks as total scan count accumulates, so a root that is
// merely new gets more exploration credit than one that is simply
// unlucky on a recent scan.
func explorationBonus(now time.Time, lastScanned time.Time, scanCount int64) float64 {
	hoursSince := now.Sub(lastScanned).Hours()
	if lastScanned.IsZero() {
		hoursSince = explorationCapHours
	}
	if hoursSince > explorationCapHours {
		hoursSince = explorationCapHours
	}
	decay := 1.0 / (1.0 + float64(scanCount)/10.0)
	return (hoursSince / explorationCapHours) * decay
}

// Utility computes the VOI score for one root at instant now.
func Utility(s *RootStats, w Weights, now time.Time) float64 {
	discount := uncertaintyDiscount(s.ScanCount.Load())
	bonus := explorationBonus(now, s.LastScanned, s.ScanCount.Load())
	return s.ExpectedReclaim*discount -
		s.IOCostEstimate*w.KIO -
		s.FalsePositiveRate*s.ExpectedReclaim*w.KFP +
		bonus
}

// Allocate picks which roots to scan this cycle out of budget slots,
// spending exploitFraction on the highest-utility roots and the rest
// on the least-recently-scanned roots among those not already picked.
func Allocate(stats []*RootStats, w Weights, budget int, now time.Time) []string {
	if budget <= 0 || len(stats) == 0 {
		return nil
	}
	exploitSlots := int(float64(budget) * exploitFraction)
	if exploitSlots > len(stats) {
		exploitSlots = len(stats)
	}
	exploreSlots := budget - exploitSlots
	if exploitSlots+exploreSlots > len(stats) {
		exploreSlots = len(stats) - exploitSlots
	}

	byUtility := append([]*RootStats(nil), stats...)
	sort.Slice(byUtility, func(i, j int) bool {
		return Utility(byUtility[i], w, now) > Utility(byUtility[j], w, now)
	})

	picked := make(map[string]bool)
	var result []string
	for _, s := range byUtility[:exploitSlots] {
		result = append(result, s.Root)
		picked[s.Root] = true
	}

	remaining := funk.Filter(stats, func(s *RootStats) bool { return !picked[s.Root] }).([]*RootStats)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].LastScanned.Before(remaining[j].LastScanned)
	})
	for i := 0; i < exploreSlots && i < len(remaining); i++ {
		result = append(result, remaining[i].Root)
	}

	return result
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
