// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"os"

	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Coordinator", func() {
	var root1, root2 string

	BeforeEach(func() {
		var err error
		root1, err = os.MkdirTemp("", "sbh-vol1")
		Expect(err).ToNot(HaveOccurred())
		root2, err = os.MkdirTemp("", "sbh-vol2")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root1)
		os.RemoveAll(root2)
	})

	It("builds one pool per volume and skips RAM/network filesystems", func() {
		cfg := v1.BallastConfig{PerVolumeFileCount: 2, PerVolumeFileSizeMB: 1}
		fsTypeOf := func(root string) string {
			if root == root2 {
				return "tmpfs"
			}
			return "ext4"
		}

		coord, skipped, err := NewCoordinator([]string{root1, root2}, cfg, fsTypeOf)
		Expect(err).ToNot(HaveOccurred())
		Expect(skipped).To(ConsistOf(root2))
		Expect(coord.Pool(root1)).ToNot(BeNil())
		Expect(coord.Pool(root2)).To(BeNil())
	})

	It("applies per-mount overrides", func() {
		cfg := v1.BallastConfig{
			PerVolumeFileCount:  2,
			PerVolumeFileSizeMB: 1,
			PerMountOverrides: map[string]v1.BallastConfig{
				root1: {PerVolumeFileCount: 5},
			},
		}
		coord, _, err := NewCoordinator([]string{root1}, cfg, func(string) string { return "ext4" })
		Expect(err).ToNot(HaveOccurred())
		Expect(coord.Pool(root1).fileCount).To(Equal(5))
	})

	It("selects the CoW random-data strategy for btrfs/zfs", func() {
		cfg := v1.BallastConfig{PerVolumeFileCount: 1, PerVolumeFileSizeMB: 1}
		coord, _, err := NewCoordinator([]string{root1}, cfg, func(string) string { return "btrfs" })
		Expect(err).ToNot(HaveOccurred())
		Expect(coord.Pool(root1).skipFallocate).To(BeTrue())
	})
})
