// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package forecast

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
)

var _ = Describe("Forecaster", func() {
	It("is uncertain before 3 samples", func() {
		f := New()
		start := time.Now()
		e := f.Observe(start, 1000)
		Expect(e.Uncertain).To(BeTrue())
		e = f.Observe(start.Add(time.Second), 990)
		Expect(e.Uncertain).To(BeTrue())
	})

	It("reports a positive rate for steady consumption", func() {
		f := New()
		start := time.Now()
		free := uint64(10_000_000)
		var e v1.RateEstimate
		for i := 0; i < 20; i++ {
			free -= 100_000
			e = f.Observe(start.Add(time.Duration(i)*time.Second), free)
		}
		Expect(e.RateBps).To(BeNumerically(">", 0))
		Expect(e.Uncertain).To(BeFalse())
	})

	It("reports a negative rate while recovering", func() {
		f := New()
		start := time.Now()
		free := uint64(1_000_000)
		var e v1.RateEstimate
		for i := 0; i < 20; i++ {
			free += 50_000
			e = f.Observe(start.Add(time.Duration(i)*time.Second), free)
		}
		Expect(e.RateBps).To(BeNumerically("<", 0))
		Expect(Trend(e)).To(Equal(v1.TrendRecovering))
	})

	It("ignores duplicate or out-of-order timestamps", func() {
		f := New()
		start := time.Now()
		f.Observe(start, 1000)
		e := f.Observe(start, 900) // dt == 0
		Expect(e.SampleCount).To(Equal(1))
	})
})

var _ = Describe("TimeToExhaustion", func() {
	It("solves the linear case when acceleration is negligible", func() {
		e := v1.RateEstimate{RateBps: 100, AccelBps2: 0, SampleCount: 5, Confidence: 0.9}
		d, ok := TimeToExhaustion(e, 10000, 5000)
		Expect(ok).To(BeTrue())
		Expect(d.Seconds()).To(BeNumerically("~", 50, 0.01))
	})

	It("returns ok=true with zero duration when already below threshold", func() {
		e := v1.RateEstimate{RateBps: 100, SampleCount: 5, Confidence: 0.9}
		d, ok := TimeToExhaustion(e, 4000, 5000)
		Expect(ok).To(BeTrue())
		Expect(d).To(BeZero())
	})

	It("returns not-ok for an uncertain estimate", func() {
		e := v1.RateEstimate{RateBps: 100, SampleCount: 1, Uncertain: true}
		_, ok := TimeToExhaustion(e, 10000, 5000)
		Expect(ok).To(BeFalse())
	})

	It("returns not-ok when neither consuming nor accelerating", func() {
		e := v1.RateEstimate{RateBps: -10, AccelBps2: 0, SampleCount: 5, Confidence: 0.9}
		_, ok := TimeToExhaustion(e, 10000, 5000)
		Expect(ok).To(BeFalse())
	})

	It("retains the quadratic correction under negative acceleration", func() {
		e := v1.RateEstimate{RateBps: 100, AccelBps2: -0.5, SampleCount: 5, Confidence: 0.9}
		d, ok := TimeToExhaustion(e, 10000, 5000)
		Expect(ok).To(BeTrue())
		// Decelerating consumption should take at least as long as the
		// pure-linear estimate.
		Expect(d.Seconds()).To(BeNumerically(">=", 50))
	})
})
