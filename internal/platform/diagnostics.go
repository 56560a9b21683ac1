// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package platform

import "github.com/acobaugh/osrelease"

// Diagnostics summarizes host identity. Nothing in the daemon or the
// CLI collects it, so it appears in neither error events nor `status`.
type Diagnostics struct {
	OSName    string
	OSVersion string
}

// CollectDiagnostics reads /etc/os-release (or /usr/lib/os-release).
// Missing or unparseable files yield a zero-value Diagnostics rather
// than an error — this is cosmetic, not load-bearing.
func CollectDiagnostics() Diagnostics {
	kv, err := osrelease.Read()
	if err != nil {
		return Diagnostics{}
	}
	return Diagnostics{
		OSName:    kv["NAME"],
		OSVersion: kv["VERSION_ID"],
	}
}
