// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
)

var _ = Describe("Clean", func() {
	var (
		root string
		cfg  v1.Config
	)

	BeforeEach(func() {
		root = tempDir()
		Expect(os.WriteFile(filepath.Join(root, "stale.log"), make([]byte, 2048), 0o644)).To(Succeed())
		cfg = v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}
	})

	It("reports what would be deleted without touching the filesystem in dry-run mode", func() {
		reports, err := Clean(cfg, nil, 100, true, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(1))
		Expect(reports[0].DryRun).To(BeTrue())
		Expect(reports[0].Deleted).To(ContainElement(filepath.Join(root, "stale.log")))

		_, statErr := os.Stat(filepath.Join(root, "stale.log"))
		Expect(statErr).NotTo(HaveOccurred())
	})

	It("deletes every candidate when the target free percentage is unreachable", func() {
		reports, err := Clean(cfg, nil, 100, false, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(1))
		Expect(reports[0].Deleted).To(ContainElement(filepath.Join(root, "stale.log")))
		Expect(reports[0].TargetReached).To(BeFalse())
		Expect(reports[0].Errors).To(BeEmpty())

		_, statErr := os.Stat(filepath.Join(root, "stale.log"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})

var _ = Describe("Emergency", func() {
	It("always deletes, ignoring the dry-run distinction Clean exposes", func() {
		root := tempDir()
		Expect(os.WriteFile(filepath.Join(root, "scratch.tmp"), make([]byte, 1024), 0o644)).To(Succeed())
		cfg := v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}

		reports, err := Emergency(cfg, nil, 100, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(1))

		_, statErr := os.Stat(filepath.Join(root, "scratch.tmp"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})
