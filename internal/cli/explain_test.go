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

var _ = Describe("Explain", func() {
	var storePath string

	BeforeEach(func() {
		storePath = filepath.Join(tempDir(), "activity.db")
		store, err := activitylog.OpenStore(storePath)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		Expect(store.Append(v1.ActivityEvent{
			Sequence:  1,
			Timestamp: time.Now(),
			Type:      v1.EventDecision,
			Payload: v1.Decision{
				DecisionID:    "dec-1",
				CandidatePath: "/data/old.log",
				Action:        v1.ActionDelete,
				Posterior:     0.9,
				PolicyMode:    v1.PolicyEnforce,
				Timestamp:     time.Now(),
			},
		})).To(Succeed())
	})

	It("finds a decision by its id", func() {
		d, err := Explain(storePath, "dec-1", FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.CandidatePath).To(Equal("/data/old.log"))
		Expect(d.Action).To(Equal(v1.ActionDelete))
	})

	It("errors when the decision id is not found", func() {
		_, err := Explain(storePath, "dec-missing", FormatJSON)
		Expect(err).To(MatchError(ContainSubstring("no decision found")))
	})
})
