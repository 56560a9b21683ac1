// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package activitylog

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sbh-activitylog-store-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "activity.db")
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("opens, migrates, and appends an event into its indexed table", func() {
		store, err := OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		evt := v1.ActivityEvent{
			Sequence:  1,
			Timestamp: time.Now(),
			Type:      v1.EventDecision,
			Payload:   map[string]any{"path": "/tmp/x", "action": "delete"},
		}
		Expect(store.Append(evt)).To(Succeed())

		n, err := store.CountRows("decisions")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("rejects an event type with no indexed table mapping", func() {
		store, err := OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		evt := v1.ActivityEvent{Sequence: 1, Timestamp: time.Now(), Type: "nonsense"}
		Expect(store.Append(evt)).To(HaveOccurred())
	})

	It("prunes rows older than the retention window", func() {
		store, err := OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		old := v1.ActivityEvent{Sequence: 1, Timestamp: time.Now().Add(-45 * 24 * time.Hour), Type: v1.EventError, Payload: "old"}
		Expect(store.Append(old)).To(Succeed())

		Expect(store.prune(time.Now())).To(Succeed())

		n, err := store.CountRows("errors")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))
	})

	It("upserts VOI root stats and guard state without erroring", func() {
		store, err := OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		Expect(store.UpsertVOIRootStats("/var/tmp", 1e6, 1.0, 0.1, time.Now(), 5)).To(Succeed())
		Expect(store.UpsertVOIRootStats("/var/tmp", 2e6, 1.5, 0.05, time.Now(), 6)).To(Succeed())
		Expect(store.UpsertGuardState("/var/tmp", v1.GuardPass, -1.2)).To(Succeed())
	})

	It("restores VOI root stats and guard state as upserted", func() {
		store, err := OpenStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		scanned := time.Now().Add(-time.Hour).Truncate(time.Second)
		Expect(store.UpsertVOIRootStats("/var/tmp", 2e6, 1.5, 0.05, scanned, 6)).To(Succeed())
		Expect(store.UpsertGuardState("/var/tmp", v1.GuardFail, 3.4)).To(Succeed())

		voiRows, err := store.LoadVOIRootStats()
		Expect(err).NotTo(HaveOccurred())
		Expect(voiRows).To(HaveLen(1))
		Expect(voiRows[0].Root).To(Equal("/var/tmp"))
		Expect(voiRows[0].ScanCount).To(Equal(int64(6)))
		Expect(voiRows[0].LastScanned.Equal(scanned)).To(BeTrue())

		guardRows, err := store.LoadGuardState()
		Expect(err).NotTo(HaveOccurred())
		Expect(guardRows).To(HaveLen(1))
		Expect(guardRows[0].Mount).To(Equal("/var/tmp"))
		Expect(guardRows[0].Status).To(Equal(v1.GuardFail))
		Expect(guardRows[0].ELog).To(Equal(3.4))
	})

	It("wraps the driver error when an append's insert fails", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		store := NewStoreFromDB(db)
		mock.ExpectExec("INSERT INTO decisions").WillReturnError(errors.New("disk full"))

		evt := v1.ActivityEvent{Sequence: 1, Timestamp: time.Now(), Type: v1.EventDecision, Payload: "x"}
		Expect(store.Append(evt)).To(MatchError(ContainSubstring("disk full")))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("wraps the driver error when a guard state upsert fails", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		store := NewStoreFromDB(db)
		mock.ExpectExec("INSERT INTO guard_state").WillReturnError(errors.New("locked"))

		Expect(store.UpsertGuardState("/var/tmp", v1.GuardFail, 2.1)).To(MatchError(ContainSubstring("locked")))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
