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

func smallConfig() v1.BallastConfig {
	return v1.BallastConfig{
		PerVolumeFileCount:  3,
		PerVolumeFileSizeMB: 0, // overridden per test via direct field set below
	}
}

var _ = Describe("Pool", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sbh-ballast")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	newTestPool := func(skipFallocate bool) *Pool {
		cfg := smallConfig()
		pool, err := NewPool("/data", dir, cfg, skipFallocate)
		Expect(err).ToNot(HaveOccurred())
		pool.fileSizeBytes = HeaderSize + 8192 // header + 8KiB data, small for test speed
		return pool
	}

	It("provisions every configured file via the random-data path", func() {
		pool := newTestPool(true)
		report, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesCreated).To(Equal(3))
		Expect(report.FilesSkipped).To(Equal(0))
		Expect(report.Errors).To(BeEmpty())
		Expect(pool.Inventory()).To(Equal([]int{1, 2, 3}))

		for i := 1; i <= 3; i++ {
			info, err := os.Stat(pool.filePath(i))
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Size()).To(Equal(pool.fileSizeBytes))
		}
	})

	It("is idempotent: a second provision skips valid files", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		report, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesCreated).To(Equal(0))
		Expect(report.FilesSkipped).To(Equal(3))
	})

	It("recreates a corrupted file rather than trusting it", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		Expect(os.WriteFile(pool.filePath(1), []byte("corrupt"), 0o600)).To(Succeed())

		report, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesCreated).To(Equal(1))
		Expect(report.FilesSkipped).To(Equal(2))
	})

	It("refuses to provision below the minimum free fraction", func() {
		pool := newTestPool(true)
		lowFree := func() float64 { return 10.0 } // below the 20% floor
		report, err := pool.Provision(lowFree)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesCreated).To(Equal(0))
		Expect(report.Errors).ToNot(BeEmpty())
	})

	It("verifies every provisioned file", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		report := pool.Verify()
		Expect(report.FilesOK).To(Equal(3))
		Expect(report.FilesCorrupted).To(Equal(0))
		Expect(report.FilesMissing).To(Equal(0))
	})

	It("releases the highest-index files first", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		report, err := pool.Release(1)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesReleased).To(Equal(1))
		Expect(pool.Inventory()).To(Equal([]int{1, 2}))
	})

	It("replenishes at most one file, bounded by what was released", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		_, err = pool.Release(2)
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.Inventory()).To(HaveLen(1))

		report, err := pool.ReplenishOne(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.FilesCreated).To(Equal(1))
		Expect(pool.Inventory()).To(HaveLen(2))

		report2, err := pool.ReplenishOne(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report2.FilesCreated).To(Equal(1))
		Expect(pool.Inventory()).To(HaveLen(3))

		// Nothing left in the released-since-Green budget: a further
		// call must not create a file even though one slot is "missing"
		// relative to fileCount only if fileCount were larger; here the
		// pool is already full, so this call is a pure no-churn check.
		report3, err := pool.ReplenishOne(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(report3.FilesCreated).To(Equal(0))
	})

	It("prunes orphaned files when the configured count shrinks", func() {
		pool := newTestPool(true)
		_, err := pool.Provision(nil)
		Expect(err).ToNot(HaveOccurred())

		report := pool.SetFileCount(1)
		Expect(report.FilesReleased).To(Equal(2))
		Expect(pool.Inventory()).To(Equal([]int{1}))
	})
})

var _ = Describe("TierCount", func() {
	It("releases nothing below 0.3 urgency", func() {
		Expect(TierCount(0.1, 4)).To(Equal(0))
	})
	It("releases one file between 0.3 and 0.6", func() {
		Expect(TierCount(0.4, 4)).To(Equal(1))
	})
	It("releases three files between 0.6 and 0.9", func() {
		Expect(TierCount(0.7, 4)).To(Equal(3))
	})
	It("releases everything at or above 0.9", func() {
		Expect(TierCount(0.95, 4)).To(Equal(4))
	})
	It("never exceeds what is actually available", func() {
		Expect(TierCount(0.95, 2)).To(Equal(2))
	})
})
