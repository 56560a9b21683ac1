// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package platform

// NewOpenFDSetForTest builds an OpenFDSet containing exactly the
// given keys. DiscoverOpenFDs is the only other constructor and it
// walks the live /proc tree, so packages that consume OpenFDSet need
// this to build fixtures for their own tests.
func NewOpenFDSetForTest(keys ...InodeKey) OpenFDSet {
	set := OpenFDSet{keys: make(map[InodeKey]struct{}, len(keys))}
	for _, k := range keys {
		set.keys[k] = struct{}{}
	}
	return set
}
