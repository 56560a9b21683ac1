// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocationScore", func() {
	It("scores tmp roots highest", func() {
		Expect(LocationScore("/tmp/foo")).To(BeNumerically("~", 0.95, 1e-9))
	})
	It("scores system roots at zero", func() {
		Expect(LocationScore("/etc/foo")).To(BeNumerically("==", 0))
	})
	It("scores document directories low", func() {
		Expect(LocationScore("/home/user/documents/report")).To(BeNumerically("~", 0.10, 1e-9))
	})
	It("falls back to the generic score for unknown locations", func() {
		Expect(LocationScore("/home/user/projects/widget")).To(BeNumerically("~", 0.40, 1e-9))
	})
})

var _ = Describe("StructureScore", func() {
	It("flags a .git child as veto-worthy", func() {
		Expect(HasGitChild([]string{".git", "src"})).To(BeTrue())
	})
	It("recognizes cargo-style fingerprint directories", func() {
		Expect(StructureScore([]string{".fingerprint", "deps"})).To(BeNumerically("~", 0.95, 1e-9))
	})
	It("recognizes coexisting deps and build directories", func() {
		Expect(StructureScore([]string{"deps", "build"})).To(BeNumerically("~", 0.85, 1e-9))
	})
})
