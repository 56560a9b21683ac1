// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/pattern"
	"github.com/sbh-io/sbh/internal/platform"
)

// Gate composes every veto layer that stands between a scored
// candidate and an actual deletion. Vetoes always short-circuit in a
// fixed order: protection, preflight, breaker, dampening.
// Policy-engine and guardrail-drift gating live in their own packages
// and are applied by the daemon loop around this gate, not inside it.
type Gate struct {
	Protection *pattern.ProtectionRegistry
	Breaker    *CircuitBreaker
	Dampener   *Dampener
}

// NewGate wires the protection registry, a fresh circuit breaker, and
// a dampener configured from cooldown seconds.
func NewGate(protectedGlobs []string, dampenBaseSecs, dampenMaxSecs int) *Gate {
	return &Gate{
		Protection: pattern.NewProtectionRegistry(protectedGlobs),
		Breaker:    NewCircuitBreaker(),
		Dampener:   NewDampener(dampenBaseSecs, dampenMaxSecs),
	}
}

// Decision is the gate's verdict on whether to proceed with deleting
// path right now.
type Decision struct {
	Proceed bool
	Reason  string
}

// Evaluate runs path through every veto layer in spec order. openFDs
// and level feed the preflight and dampening checks respectively.
func (g *Gate) Evaluate(path string, level v1.PressureLevel, openFDs platform.OpenFDSet) Decision {
	if protected, mark := g.Protection.IsProtected(path); protected {
		return Decision{Proceed: false, Reason: "protected: " + mark.Reason}
	}

	result := Preflight(path, openFDs)
	if !result.OK {
		return Decision{Proceed: false, Reason: "preflight: " + string(result.Reason)}
	}

	if !g.Breaker.Allow() {
		return Decision{Proceed: false, Reason: "circuit breaker open"}
	}

	if !g.Dampener.Allow(path, level) {
		return Decision{Proceed: false, Reason: "repeat-deletion dampening"}
	}

	return Decision{Proceed: true}
}
