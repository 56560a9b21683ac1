// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package activitylog

import (
	"bufio"
	"os"
	"path/filepath"
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Journal", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sbh-activitylog-journal-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "journal.jsonl")
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("appends one JSON object per line", func() {
		j, err := OpenJournal(path)
		Expect(err).NotTo(HaveOccurred())
		defer j.Close()

		Expect(j.Append(v1.ActivityEvent{Sequence: 1, Timestamp: time.Now(), Type: v1.EventDeletion})).To(Succeed())
		Expect(j.Append(v1.ActivityEvent{Sequence: 2, Timestamp: time.Now(), Type: v1.EventDeletion})).To(Succeed())

		f, err := os.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		scanner := bufio.NewScanner(f)
		count := 0
		for scanner.Scan() {
			count++
		}
		Expect(count).To(Equal(2))
	})

	It("rotates into a .1 generation once the size threshold is crossed", func() {
		j, err := OpenJournal(path)
		Expect(err).NotTo(HaveOccurred())
		defer j.Close()

		j.size = journalRotateSize - 10

		Expect(j.Append(v1.ActivityEvent{Sequence: 1, Timestamp: time.Now(), Type: v1.EventDeletion})).To(Succeed())

		_, err = os.Stat(path + ".1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("caps retained generations, dropping the oldest on rotation", func() {
		j, err := OpenJournal(path)
		Expect(err).NotTo(HaveOccurred())
		defer j.Close()

		for gen := 1; gen <= journalGenerations; gen++ {
			genPath := path + "." + itoaTest(gen)
			Expect(os.WriteFile(genPath, []byte("placeholder\n"), 0o640)).To(Succeed())
		}

		j.size = journalRotateSize
		Expect(j.Append(v1.ActivityEvent{Sequence: 1, Timestamp: time.Now(), Type: v1.EventDeletion})).To(Succeed())

		_, err = os.Stat(path + "." + itoaTest(journalGenerations+1))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}
