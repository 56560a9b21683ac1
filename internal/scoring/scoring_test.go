// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AgeScore", func() {
	It("ramps up toward the 4-10h peak window", func() {
		Expect(AgeScore(0)).To(BeNumerically("~", 0, 1e-9))
		Expect(AgeScore(2 * 3600)).To(BeNumerically(">", 0))
		Expect(AgeScore(2 * 3600)).To(BeNumerically("<", AgeScore(6*3600)))
	})

	It("peaks at exactly 1.0 within 4-10 hours", func() {
		Expect(AgeScore(5 * 3600)).To(Equal(1.0))
		Expect(AgeScore(10 * 3600)).To(Equal(1.0))
	})

	It("decays for very old files rather than keeping climbing", func() {
		recent := AgeScore(12 * 3600)
		veryOld := AgeScore(60 * 24 * 3600)
		Expect(veryOld).To(BeNumerically("<", recent))
		Expect(veryOld).To(BeNumerically(">=", 0.40))
	})
})

var _ = Describe("SizeScore", func() {
	It("is monotone increasing with diminishing returns", func() {
		small := SizeScore(1 << 20)
		mid := SizeScore(1 << 30)
		big := SizeScore(20 << 30)
		Expect(small).To(BeNumerically("<", mid))
		Expect(mid).To(BeNumerically("<", big))
		Expect(big).To(BeNumerically("<=", 1.0))
	})
})

var _ = Describe("PressureMultiplier", func() {
	It("is 1.0 at zero urgency and 3.0 at full urgency", func() {
		Expect(PressureMultiplier(0)).To(BeNumerically("~", 1.0, 1e-9))
		Expect(PressureMultiplier(1)).To(BeNumerically("~", 3.0, 1e-9))
	})

	It("is monotone in between", func() {
		Expect(PressureMultiplier(0.25)).To(BeNumerically("<", PressureMultiplier(0.75)))
	})
})

var _ = Describe("Posterior and Decide", func() {
	// Weighted so that keeping an abandoned artifact costs more than
	// an occasional wrongful delete, matching a reclaimer that would
	// rather err toward freeing space once confidence is high.
	loss := LossModel{FalsePositive: 1, FalseNegative: 5}

	It("favors Delete for a high composite score with good calibration", func() {
		p := Posterior(0.95, 0.9)
		outcome := Decide(DecideParams{
			Posterior:         p,
			Calibration:       0.9,
			Loss:              loss,
			MinPosteriorFloor: 0.6,
			MinPosteriorSlope: 0.3,
			ReviewThreshold:   0.6,
		})
		Expect(outcome.Action).To(Equal(v1.ActionDelete))
	})

	It("favors Keep for a low composite score", func() {
		p := Posterior(0.05, 0.9)
		outcome := Decide(DecideParams{
			Posterior:         p,
			Calibration:       0.9,
			Loss:              loss,
			MinPosteriorFloor: 0.6,
			MinPosteriorSlope: 0.3,
			ReviewThreshold:   0.7,
		})
		Expect(outcome.Action).To(Equal(v1.ActionKeep))
	})

	It("routes to Review when uncertainty is high and evidence is ambiguous", func() {
		p := Posterior(0.5, 0.1)
		outcome := Decide(DecideParams{
			Posterior:         p,
			Calibration:       0.1,
			Loss:              loss,
			MinPosteriorFloor: 0.6,
			MinPosteriorSlope: 0.3,
			ReviewThreshold:   0.3,
		})
		Expect(outcome.Action).To(Equal(v1.ActionReview))
	})

	It("never deletes below the uncertainty-adjusted minimum posterior", func() {
		p := Posterior(0.8, 0.05) // decent composite but nearly uncalibrated
		outcome := Decide(DecideParams{
			Posterior:         p,
			Calibration:       0.05,
			Loss:              loss,
			MinPosteriorFloor: 0.6,
			MinPosteriorSlope: 0.5,
			ReviewThreshold:   0.9,
		})
		Expect(outcome.Action).ToNot(Equal(v1.ActionDelete))
	})
})

var _ = Describe("Rank", func() {
	It("sorts by composite score descending, ties broken by path", func() {
		candidates := []v1.Candidate{
			{Path: "/b", CompositeScore: 0.5},
			{Path: "/a", CompositeScore: 0.9},
			{Path: "/c", CompositeScore: 0.5},
		}
		ranked := Rank(candidates)
		Expect(ranked[0].Path).To(Equal("/a"))
		Expect(ranked[1].Path).To(Equal("/b"))
		Expect(ranked[2].Path).To(Equal("/c"))
	})

	It("is deterministic across repeated calls on identical input", func() {
		candidates := []v1.Candidate{
			{Path: "/x", CompositeScore: 0.3},
			{Path: "/y", CompositeScore: 0.7},
		}
		first := Rank(candidates)
		second := Rank(candidates)
		Expect(first).To(Equal(second))
	})
})

var _ = Describe("NewDecisionID", func() {
	It("is deterministic for identical candidate path and instant", func() {
		id1 := NewDecisionID("/var/tmp/build", 1700000000)
		id2 := NewDecisionID("/var/tmp/build", 1700000000)
		Expect(id1).To(Equal(id2))
	})

	It("differs across distinct inputs", func() {
		id1 := NewDecisionID("/var/tmp/build", 1700000000)
		id2 := NewDecisionID("/var/tmp/build", 1700000001)
		Expect(id1).ToNot(Equal(id2))
	})
})
