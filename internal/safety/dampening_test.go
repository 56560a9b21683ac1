// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Dampener", func() {
	It("allows the first deletion at a path for free", func() {
		d := NewDampener(300, 14400)
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeTrue())
	})

	It("imposes an exponentially growing cooldown on repeats", func() {
		clock := time.Unix(1000, 0)
		d := NewDampener(300, 14400)
		d.now = func() time.Time { return clock }

		d.RecordDeletion("/var/tmp/x")
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeFalse())

		clock = clock.Add(301 * time.Second)
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeTrue())

		d.RecordDeletion("/var/tmp/x")
		clock = clock.Add(301 * time.Second) // base cooldown again, but now cycle 2 needs 600s
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeFalse())
	})

	It("caps the cooldown at the configured max", func() {
		clock := time.Unix(1000, 0)
		d := NewDampener(300, 600)
		d.now = func() time.Time { return clock }

		for i := 0; i < 5; i++ {
			d.RecordDeletion("/var/tmp/x")
		}
		Expect(d.cooldownFor(5)).To(Equal(600 * time.Second))
	})

	It("bypasses dampening entirely under Red or Critical pressure", func() {
		clock := time.Unix(1000, 0)
		d := NewDampener(300, 14400)
		d.now = func() time.Time { return clock }
		d.RecordDeletion("/var/tmp/x")

		Expect(d.Allow("/var/tmp/x", v1.PressureRed)).To(BeTrue())
		Expect(d.Allow("/var/tmp/x", v1.PressureCritical)).To(BeTrue())
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeFalse())
	})

	It("prunes state once the last deletion exceeds the max cooldown", func() {
		clock := time.Unix(1000, 0)
		d := NewDampener(300, 600)
		d.now = func() time.Time { return clock }
		d.RecordDeletion("/var/tmp/x")

		clock = clock.Add(601 * time.Second)
		d.Prune()
		Expect(d.Allow("/var/tmp/x", v1.PressureGreen)).To(BeTrue())
	})
})
