// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/sbh-io/sbh/internal/platform"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Preflight", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sbh-preflight")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("vetoes a target that no longer exists", func() {
		result := Preflight(filepath.Join(dir, "gone"), platform.OpenFDSet{})
		Expect(result.OK).To(BeFalse())
		Expect(result.Reason).To(Equal(VetoGone))
	})

	It("vetoes a symlink", func() {
		target := filepath.Join(dir, "real")
		Expect(os.WriteFile(target, []byte("x"), 0o644)).To(Succeed())
		link := filepath.Join(dir, "link")
		Expect(os.Symlink(target, link)).To(Succeed())

		result := Preflight(link, platform.OpenFDSet{})
		Expect(result.OK).To(BeFalse())
		Expect(result.Reason).To(Equal(VetoSymlink))
	})

	It("passes a plain writable-parent file with no open fd", func() {
		target := filepath.Join(dir, "plain")
		Expect(os.WriteFile(target, []byte("x"), 0o644)).To(Succeed())

		result := Preflight(target, platform.OpenFDSet{})
		Expect(result.OK).To(BeTrue())
	})

	It("vetoes a directory subtree containing a .git descendant", func() {
		sub := filepath.Join(dir, "project")
		Expect(os.MkdirAll(filepath.Join(sub, ".git"), 0o755)).To(Succeed())

		result := Preflight(sub, platform.OpenFDSet{})
		Expect(result.OK).To(BeFalse())
		Expect(result.Reason).To(Equal(VetoGitChild))
	})

	It("vetoes a file whose inode appears in the open-fd set", func() {
		target := filepath.Join(dir, "busy")
		Expect(os.WriteFile(target, []byte("x"), 0o644)).To(Succeed())

		var st syscall.Stat_t
		Expect(syscall.Stat(target, &st)).To(Succeed())

		set := platform.NewOpenFDSetForTest(platform.InodeKey{Device: uint64(st.Dev), Inode: st.Ino})

		result := Preflight(target, set)
		Expect(result.OK).To(BeFalse())
		Expect(result.Reason).To(Equal(VetoOpenFD))
	})
})
