// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
)

var _ = Describe("Protect", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(tempDir(), "config.yaml")
		Expect(SaveConfig(v1.Default(), path)).To(Succeed())
	})

	It("adds a glob and reports paths matching it as protected", func() {
		Expect(ProtectAdd(path, "/data/*.keep")).To(Succeed())

		cfg, err := LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Scanner.ProtectedGlobs).To(ContainElement("/data/*.keep"))

		protected, reason, err := ProtectCheck(path, "/data/important.keep")
		Expect(err).NotTo(HaveOccurred())
		Expect(protected).To(BeTrue())
		Expect(reason).To(ContainSubstring("/data/*.keep"))
	})

	It("does not add a duplicate glob", func() {
		Expect(ProtectAdd(path, "/data/*.keep")).To(Succeed())
		Expect(ProtectAdd(path, "/data/*.keep")).To(Succeed())

		cfg, err := LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		count := 0
		for _, g := range cfg.Scanner.ProtectedGlobs {
			if g == "/data/*.keep" {
				count++
			}
		}
		Expect(count).To(Equal(1))
	})

	It("removes a glob", func() {
		Expect(ProtectAdd(path, "/data/*.keep")).To(Succeed())
		Expect(ProtectRemove(path, "/data/*.keep")).To(Succeed())

		cfg, err := LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Scanner.ProtectedGlobs).NotTo(ContainElement("/data/*.keep"))
	})

	It("reports unprotected paths as not protected", func() {
		protected, _, err := ProtectCheck(path, "/data/scratch.tmp")
		Expect(err).NotTo(HaveOccurred())
		Expect(protected).To(BeFalse())
	})
})
