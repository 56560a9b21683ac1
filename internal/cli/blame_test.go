// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/activitylog"
)

var _ = Describe("Blame", func() {
	var storePath string

	BeforeEach(func() {
		storePath = filepath.Join(tempDir(), "activity.db")
		store, err := activitylog.OpenStore(storePath)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		now := time.Now()
		records := []v1.DeletionRecord{
			{Path: "/data/a.log", Root: "/data", SizeBytes: 1000},
			{Path: "/data/b.log", Root: "/data", SizeBytes: 500},
			{Path: "/scratch/c.tmp", Root: "/scratch", SizeBytes: 9000},
		}
		for i, r := range records {
			Expect(store.Append(v1.ActivityEvent{Sequence: uint64(i + 1), Timestamp: now, Type: v1.EventDeletion, Payload: r})).To(Succeed())
		}
	})

	It("sums reclaimed bytes per root, ranked descending", func() {
		out, err := Blame(storePath, nil, 0, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
		Expect(out[0].Root).To(Equal("/scratch"))
		Expect(out[0].BytesReclaimed).To(Equal(int64(9000)))
		Expect(out[1].Root).To(Equal("/data"))
		Expect(out[1].Deletions).To(Equal(2))
	})

	It("truncates to topN", func() {
		out, err := Blame(storePath, nil, 1, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		Expect(out[0].Root).To(Equal("/scratch"))
	})

	It("falls back to the longest matching watched root when Root is empty", func() {
		store, err := activitylog.OpenStore(storePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Append(v1.ActivityEvent{
			Sequence: 10, Timestamp: time.Now(), Type: v1.EventDeletion,
			Payload: v1.DeletionRecord{Path: "/data/sub/d.log", SizeBytes: 42},
		})).To(Succeed())
		Expect(store.Close()).To(Succeed())

		out, err := Blame(storePath, []string{"/data", "/data/sub"}, 0, FormatJSON)
		Expect(err).NotTo(HaveOccurred())

		var found bool
		for _, a := range out {
			if a.Root == "/data/sub" {
				found = true
				Expect(a.BytesReclaimed).To(Equal(int64(42)))
			}
		}
		Expect(found).To(BeTrue())
	})
})
