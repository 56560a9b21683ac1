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

var _ = Describe("Stats", func() {
	var storePath string

	BeforeEach(func() {
		storePath = filepath.Join(tempDir(), "activity.db")
		store, err := activitylog.OpenStore(storePath)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		now := time.Now()
		Expect(store.Append(v1.ActivityEvent{Sequence: 1, Timestamp: now, Type: v1.EventDecision, Payload: v1.Decision{DecisionID: "d1"}})).To(Succeed())
		Expect(store.Append(v1.ActivityEvent{Sequence: 2, Timestamp: now, Type: v1.EventDeletion, Payload: v1.DeletionRecord{Path: "/data/a", Root: "/data", SizeBytes: 1024}})).To(Succeed())
		Expect(store.Append(v1.ActivityEvent{Sequence: 3, Timestamp: now, Type: v1.EventDeletion, Payload: v1.DeletionRecord{Path: "/data/b", Root: "/data", SizeBytes: 2048}})).To(Succeed())
		Expect(store.Append(v1.ActivityEvent{Sequence: 4, Timestamp: now, Type: v1.EventError, Payload: map[string]any{"path": "/data/c", "veto": "cooldown active"}})).To(Succeed())
		Expect(store.Append(v1.ActivityEvent{Sequence: 5, Timestamp: now, Type: v1.EventError, Payload: map[string]any{"path": "/data/d", "err": "permission denied"}})).To(Succeed())
	})

	It("aggregates decisions, deletions, bytes reclaimed, and vetoes over the window", func() {
		out, err := Stats(storePath, time.Hour, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Decisions).To(Equal(1))
		Expect(out.Deletions).To(Equal(2))
		Expect(out.BytesReclaimed).To(Equal(int64(3072)))
		Expect(out.Errors).To(Equal(2))
		Expect(out.Vetoes).To(Equal(1))
	})

	It("excludes events outside the window", func() {
		out, err := Stats(storePath, time.Nanosecond, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Decisions).To(Equal(0))
		Expect(out.Deletions).To(Equal(0))
	})
})
