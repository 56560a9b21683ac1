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

var _ = Describe("scoreRoots", func() {
	It("ranks files under the watched paths by composite score", func() {
		root := tempDir()
		Expect(os.WriteFile(filepath.Join(root, "small.log"), []byte("x"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "big.tmp"), make([]byte, 4096), 0o644)).To(Succeed())

		cfg := v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}

		candidates, err := scoreRoots(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(2))

		for i := 1; i < len(candidates); i++ {
			Expect(candidates[i-1].CompositeScore).To(BeNumerically(">=", candidates[i].CompositeScore))
		}
	})

	It("excludes paths a protected glob matches", func() {
		root := tempDir()
		protected := filepath.Join(root, "keep.important")
		Expect(os.WriteFile(protected, []byte("x"), 0o644)).To(Succeed())

		cfg := v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}
		cfg.Scanner.ProtectedGlobs = []string{filepath.Join(root, "*.important")}

		candidates, err := scoreRoots(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(BeEmpty())
	})

	It("falls back to the configured watched paths when roots is empty", func() {
		root := tempDir()
		Expect(os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0o644)).To(Succeed())

		cfg := v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}

		candidates, err := scoreRoots(cfg, []string{})
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
	})
})

var _ = Describe("Scan", func() {
	It("succeeds against an empty root", func() {
		root := tempDir()
		cfg := v1.Default()
		cfg.Scanner.WatchedPaths = []string{root}

		Expect(Scan(cfg, nil, 0, FormatJSON)).To(Succeed())
	})
})
