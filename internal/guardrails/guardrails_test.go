// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Observation", func() {
	It("exempts idle-noise observations from rate-error scoring", func() {
		obs := Observation{PredictedRateBps: 0.5, ActualRateBps: 0.3, HadPrediction: true}
		_, ok := obs.RateError()
		Expect(ok).To(BeFalse())
	})

	It("computes rate error against the actual rate when not idle", func() {
		obs := Observation{PredictedRateBps: 10, ActualRateBps: 5, HadPrediction: true}
		errRate, ok := obs.RateError()
		Expect(ok).To(BeTrue())
		Expect(errRate).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("treats an absent prediction as trivially conservative", func() {
		obs := Observation{HadPrediction: false}
		Expect(obs.Conservative()).To(BeTrue())
	})

	It("is conservative only when predicted TTE does not exceed actual TTE", func() {
		under := Observation{HadPrediction: true, PredictedTTE: 100, ActualTTE: 200}
		over := Observation{HadPrediction: true, PredictedTTE: 300, ActualTTE: 200}
		Expect(under.Conservative()).To(BeTrue())
		Expect(over.Conservative()).To(BeFalse())
	})
})

func goodObservation() Observation {
	return Observation{PredictedRateBps: 105, ActualRateBps: 100, HadPrediction: true, PredictedTTE: 50, ActualTTE: 60}
}

func badObservation() Observation {
	return Observation{PredictedRateBps: 10, ActualRateBps: 100, HadPrediction: true, PredictedTTE: 500, ActualTTE: 60}
}

var _ = Describe("Tracker calibration status", func() {
	It("stays Unknown below the minimum observation count", func() {
		tr := NewTracker()
		var state v1.GuardState
		for i := 0; i < 5; i++ {
			state = tr.Observe(goodObservation())
		}
		Expect(state.Status).To(Equal(v1.GuardUnknown))
	})

	It("reaches Pass after ten good observations", func() {
		tr := NewTracker()
		var state v1.GuardState
		for i := 0; i < 10; i++ {
			state = tr.Observe(goodObservation())
		}
		Expect(state.Status).To(Equal(v1.GuardPass))
	})

	It("reaches Fail once the median rate error crosses the threshold", func() {
		tr := NewTracker()
		var state v1.GuardState
		for i := 0; i < 10; i++ {
			state = tr.Observe(badObservation())
		}
		Expect(state.Status).To(Equal(v1.GuardFail))
	})

	It("fails from Unknown on bad observations, with no minimum count", func() {
		tr := NewTracker()
		tr.Observe(badObservation())
		tr.Observe(badObservation())
		state := tr.Observe(badObservation())
		Expect(state.Status).To(Equal(v1.GuardFail))
	})

	It("recovers from Fail to Pass once good observations dominate the window", func() {
		tr := NewTracker()
		for i := 0; i < 10; i++ {
			tr.Observe(badObservation())
		}
		Expect(tr.Status()).To(Equal(v1.GuardFail))

		var state v1.GuardState
		for i := 0; i < 41; i++ {
			state = tr.Observe(goodObservation())
		}
		Expect(state.Status).To(Equal(v1.GuardPass))
	})

	It("keeps the rolling window bounded to the last 50 observations", func() {
		tr := NewTracker()
		var state v1.GuardState
		for i := 0; i < 75; i++ {
			state = tr.Observe(goodObservation())
		}
		Expect(len(state.RateErrorWindow)).To(BeNumerically("<=", 50))
	})
})

var _ = Describe("Tracker e-process", func() {
	It("is not alarmed when all observations are good", func() {
		tr := NewTracker()
		for i := 0; i < 20; i++ {
			tr.Observe(goodObservation())
		}
		Expect(tr.Alarmed()).To(BeFalse())
	})

	It("raises the alarm after a sustained run of bad observations", func() {
		tr := NewTracker()
		for i := 0; i < 8; i++ {
			tr.Observe(badObservation())
		}
		Expect(tr.Alarmed()).To(BeTrue())
	})

	It("resets the e-process and window counters on recovery", func() {
		tr := NewTracker()
		for i := 0; i < 8; i++ {
			tr.Observe(badObservation())
		}
		Expect(tr.Alarmed()).To(BeTrue())

		tr.ResetOnRecovery()
		Expect(tr.Alarmed()).To(BeFalse())
		good, bad := tr.GoodBadCounts()
		Expect(good).To(Equal(int64(0)))
		Expect(bad).To(Equal(int64(0)))
	})
})

var _ = Describe("Tracker persistence", func() {
	It("restores status and e-process log from a saved state", func() {
		tr := NewTracker()
		for i := 0; i < 8; i++ {
			tr.Observe(badObservation())
		}
		saved := tr.State()
		Expect(saved.Status).To(Equal(v1.GuardFail))

		restored := NewTracker()
		restored.Restore(saved)
		Expect(restored.Status()).To(Equal(v1.GuardFail))
		Expect(restored.Alarmed()).To(Equal(tr.Alarmed()))
	})
})
