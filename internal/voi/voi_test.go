// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package voi

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Utility", func() {
	w := Weights{KIO: 0.3, KFP: 0.5}

	It("ranks a high-reclaim, low-cost root above a low-reclaim root", func() {
		now := time.Unix(100000, 0)
		good := &RootStats{Root: "/var/tmp", ExpectedReclaim: 1e9, IOCostEstimate: 1, LastScanned: now}
		good.ScanCount.Store(10)
		bad := &RootStats{Root: "/home", ExpectedReclaim: 1e6, IOCostEstimate: 1, LastScanned: now}
		bad.ScanCount.Store(10)

		Expect(Utility(good, w, now)).To(BeNumerically(">", Utility(bad, w, now)))
	})

	It("penalizes a root with a high false-positive rate", func() {
		now := time.Unix(100000, 0)
		clean := &RootStats{Root: "/a", ExpectedReclaim: 1e6, FalsePositiveRate: 0.0, LastScanned: now}
		risky := &RootStats{Root: "/b", ExpectedReclaim: 1e6, FalsePositiveRate: 0.9, LastScanned: now}
		Expect(Utility(clean, w, now)).To(BeNumerically(">", Utility(risky, w, now)))
	})

	It("grants more exploration bonus to a long-unscanned root", func() {
		now := time.Unix(100000, 0)
		stale := &RootStats{Root: "/c", LastScanned: now.Add(-48 * time.Hour)}
		fresh := &RootStats{Root: "/d", LastScanned: now.Add(-1 * time.Minute)}
		Expect(Utility(stale, w, now)).To(BeNumerically(">", Utility(fresh, w, now)))
	})
})

var _ = Describe("Allocate", func() {
	w := Weights{KIO: 0.3, KFP: 0.5}

	It("splits the budget 80/20 between exploit and explore", func() {
		now := time.Unix(100000, 0)
		stats := make([]*RootStats, 5)
		for i := range stats {
			stats[i] = &RootStats{Root: string(rune('a' + i)), ExpectedReclaim: float64(5 - i), LastScanned: now}
		}
		picked := Allocate(stats, w, 5, now)
		Expect(picked).To(HaveLen(5))
	})

	It("returns nothing for a zero budget", func() {
		stats := []*RootStats{{Root: "/a"}}
		Expect(Allocate(stats, w, 0, time.Unix(0, 0))).To(BeEmpty())
	})
})

var _ = Describe("FallbackTracker", func() {
	It("stays inactive below the trigger window count", func() {
		t := NewFallbackTracker()
		t.Observe(0.6)
		t.Observe(0.6)
		Expect(t.Active()).To(BeFalse())
	})

	It("activates after three consecutive bad windows", func() {
		t := NewFallbackTracker()
		t.Observe(0.6)
		t.Observe(0.6)
		t.Observe(0.6)
		Expect(t.Active()).To(BeTrue())
	})

	It("a single clean window does not immediately recover", func() {
		t := NewFallbackTracker()
		for i := 0; i < 3; i++ {
			t.Observe(0.6)
		}
		t.Observe(0.1)
		Expect(t.Active()).To(BeTrue())
	})

	It("recovers after five consecutive clean windows", func() {
		t := NewFallbackTracker()
		for i := 0; i < 3; i++ {
			t.Observe(0.6)
		}
		for i := 0; i < 5; i++ {
			t.Observe(0.1)
		}
		Expect(t.Active()).To(BeFalse())
	})
})

var _ = Describe("RoundRobin", func() {
	It("cycles through roots in order, wrapping around", func() {
		roots := []string{"/a", "/b", "/c"}
		picked, idx := RoundRobin(roots, -1, 2)
		Expect(picked).To(Equal([]string{"/a", "/b"}))
		Expect(idx).To(Equal(1))

		picked2, idx2 := RoundRobin(roots, idx, 2)
		Expect(picked2).To(Equal([]string{"/c", "/a"}))
		Expect(idx2).To(Equal(0))
	})
})

var _ = Describe("Scheduler", func() {
	It("switches to round-robin once fallback activates", func() {
		s := NewScheduler([]string{"/a", "/b", "/c"}, Weights{KIO: 0.3, KFP: 0.5})
		for i := 0; i < 3; i++ {
			s.ObserveForecastError(0.9)
		}
		plan := s.Plan(2, time.Unix(1000, 0))
		Expect(plan).To(HaveLen(2))
	})

	It("round-trips a root's statistics through Snapshot and Restore", func() {
		s := NewScheduler([]string{"/a"}, Weights{KIO: 0.3, KFP: 0.5})
		now := time.Unix(100000, 0)
		s.Observe("/a", now, 5e6, 2.0, false)

		snap, ok := s.Snapshot("/a")
		Expect(ok).To(BeTrue())
		Expect(snap.ExpectedReclaim).To(Equal(5e6))
		Expect(snap.ScanCount).To(Equal(int64(1)))

		fresh := NewScheduler([]string{"/a"}, Weights{KIO: 0.3, KFP: 0.5})
		fresh.Restore([]Snapshot{snap})

		restored, ok := fresh.Snapshot("/a")
		Expect(ok).To(BeTrue())
		Expect(restored).To(Equal(snap))
	})

	It("reports no snapshot for an unknown root", func() {
		s := NewScheduler([]string{"/a"}, Weights{KIO: 0.3, KFP: 0.5})
		_, ok := s.Snapshot("/nonexistent")
		Expect(ok).To(BeFalse())
	})
})
