// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package pidctl

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
)

var _ = Describe("Controller", func() {
	It("outputs zero urgency with no error", func() {
		c := New()
		u := c.Step(20, 20, time.Second)
		Expect(u).To(BeNumerically("~", 0, 1e-9))
	})

	It("increases urgency as free percentage drops", func() {
		c := New()
		u1 := c.Step(20, 15, time.Second)
		u2 := c.Step(20, 5, time.Second)
		Expect(u2).To(BeNumerically(">", u1))
	})

	It("saturates into [0,1]", func() {
		c := New()
		u := c.Step(20, -1000, time.Second)
		Expect(u).To(BeNumerically("<=", 1))
		Expect(u).To(BeNumerically(">=", 0))
	})

	It("winds the integral down during recovery instead of staying pinned", func() {
		c := New()
		for i := 0; i < 20; i++ {
			c.Step(20, 2, time.Second)
		}
		peak := c.integral
		for i := 0; i < 20; i++ {
			c.Step(20, 25, time.Second)
		}
		Expect(c.integral).To(BeNumerically("<", peak))
	})
})

var _ = Describe("Classify", func() {
	t := Thresholds{GreenPct: 20, YellowPct: 14, OrangePct: 10, RedPct: 6}

	It("classifies Green above the yellow boundary", func() {
		Expect(Classify(25, t)).To(Equal(v1.PressureGreen))
	})
	It("classifies Critical below half the red threshold", func() {
		Expect(Classify(2, t)).To(Equal(v1.PressureCritical))
	})
	It("classifies Red between half-red and red", func() {
		Expect(Classify(5, t)).To(Equal(v1.PressureRed))
	})
})

var _ = Describe("PredictiveBoost", func() {
	It("clamps urgency to at least 0.70 when Red is predicted with confidence", func() {
		got := PredictiveBoost(0.3, true, 0.9, 0.5, false)
		Expect(got).To(BeNumerically(">=", 0.70))
	})

	It("never boosts from an uncertain forecast", func() {
		got := PredictiveBoost(0.3, true, 0.9, 0.5, true)
		Expect(got).To(Equal(0.3))
	})
})
