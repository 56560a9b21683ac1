// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ProtectionRegistry", func() {
	It("protects a subtree when an ancestor carries the marker", func() {
		r := NewProtectionRegistry(nil)
		r.statFunc = func(p string) (os.FileInfo, error) {
			if p == "/p/.sbh-protect" {
				return nil, nil
			}
			return nil, os.ErrNotExist
		}
		ok, mark := r.IsProtected("/p/build/deep/nested")
		Expect(ok).To(BeTrue())
		Expect(mark.Reason).To(Equal("protected ancestor"))
	})

	It("protects a path matching a configured glob", func() {
		r := NewProtectionRegistry([]string{"/secrets/*"})
		r.statFunc = func(p string) (os.FileInfo, error) { return nil, os.ErrNotExist }
		ok, _ := r.IsProtected("/secrets/key.pem")
		Expect(ok).To(BeTrue())
	})

	It("leaves unrelated paths unprotected", func() {
		r := NewProtectionRegistry(nil)
		r.statFunc = func(p string) (os.FileInfo, error) { return nil, os.ErrNotExist }
		ok, _ := r.IsProtected("/tmp/build/scratch")
		Expect(ok).To(BeFalse())
	})
})
