// Copyright © the sbh authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// SPDX-License-Identifier: Apache-2.0

// Package v1 holds the data types shared across the daemon, the CLI,
// and the on-disk state/config/ballast formats.
package v1

import "time"

// FreeMetric names which statfs-derived field the forecaster and PID
// controller consume for the lifetime of a daemon run. The choice is
// fixed at startup and recorded in the state file; it must never change
// mid-run.
type FreeMetric string

const (
	// FreeMetricFree selects free_bytes (includes root-reserved blocks).
	FreeMetricFree FreeMetric = "free_bytes"
	// FreeMetricAvailable selects available_bytes (excludes root-reserved
	// blocks). This is the daemon's default.
	FreeMetricAvailable FreeMetric = "available_bytes"
)

// MountStats is a single statfs-derived sample for one mount. It is
// created fresh on every sample and never mutated afterward.
type MountStats struct {
	MountRoot      string    `json:"mountRoot"`
	TotalBytes     uint64    `json:"totalBytes"`
	FreeBytes      uint64    `json:"freeBytes"`
	AvailableBytes uint64    `json:"availableBytes"`
	DeviceID       uint64    `json:"deviceId"`
	SampleInstant  time.Time `json:"sampleInstant"`
}

// Metric returns the configured free-space field for this sample.
func (m MountStats) Metric(which FreeMetric) uint64 {
	if which == FreeMetricFree {
		return m.FreeBytes
	}
	return m.AvailableBytes
}

// PressureLevel classifies how close a mount is to exhaustion.
type PressureLevel string

const (
	PressureGreen    PressureLevel = "green"
	PressureYellow   PressureLevel = "yellow"
	PressureOrange   PressureLevel = "orange"
	PressureRed      PressureLevel = "red"
	PressureCritical PressureLevel = "critical"
)

// RateEstimate is the forecaster's current view of byte consumption on
// a single mount.
type RateEstimate struct {
	RateBps      float64 `json:"rateBps"`
	AccelBps2    float64 `json:"accelBps2"`
	Confidence   float64 `json:"confidence"`
	SampleCount  int     `json:"sampleCount"`
	ResidualEWMA float64 `json:"residualEwma"`
	Uncertain    bool    `json:"uncertain"`
}

// Trend is an operator-facing classification of a RateEstimate.
type Trend string

const (
	TrendRecovering   Trend = "recovering"
	TrendAccelerating Trend = "accelerating"
	TrendDecelerating Trend = "decelerating"
	TrendStable       Trend = "stable"
)

// ResponsePolicy is derived from (PressureLevel, Urgency) and governs
// how aggressively the daemon reacts on a given tick.
type ResponsePolicy struct {
	Level             PressureLevel `json:"level"`
	ScanInterval      time.Duration `json:"scanInterval"`
	BallastRelease    int           `json:"ballastRelease"`
	MaxDeleteBatch    int           `json:"maxDeleteBatch"`
}

// CandidateKind distinguishes files from directories.
type CandidateKind string

const (
	CandidateFile CandidateKind = "file"
	CandidateDir  CandidateKind = "dir"
)

// Candidate is a scanner-produced, scorer-annotated reclamation
// candidate. It is never persisted as an entity — only its eventual
// Decision is logged.
type Candidate struct {
	Path             string        `json:"path"`
	Kind             CandidateKind `json:"kind"`
	SizeBytes        int64         `json:"sizeBytes"`
	EffectiveAgeSecs float64       `json:"effectiveAgeSecs"`
	DeviceID         uint64        `json:"deviceId"`
	Inode            uint64        `json:"inode"`

	LocationScore  float64 `json:"locationScore"`
	NameScore      float64 `json:"nameScore"`
	AgeScore       float64 `json:"ageScore"`
	SizeScore      float64 `json:"sizeScore"`
	StructureScore float64 `json:"structureScore"`

	CompositeScore     float64 `json:"compositeScore"`
	Confidence         float64 `json:"confidence"`
	PosteriorAbandoned float64 `json:"posteriorAbandoned"`

	Veto       bool   `json:"veto"`
	VetoReason string `json:"vetoReason,omitempty"`
}

// DecisionAction is the outcome the scoring/decision layer assigns to
// a Candidate.
type DecisionAction string

const (
	ActionDelete DecisionAction = "delete"
	ActionKeep   DecisionAction = "keep"
	ActionReview DecisionAction = "review"
)

// Decision is the immutable record of what the scoring layer decided
// to do with a Candidate, and why.
type Decision struct {
	DecisionID        string         `json:"decisionId"`
	CandidatePath      string         `json:"candidatePath"`
	Action             DecisionAction `json:"action"`
	ExpectedLossDelete float64        `json:"expectedLossDelete"`
	ExpectedLossKeep   float64        `json:"expectedLossKeep"`
	Posterior          float64        `json:"posterior"`
	Uncertainty        float64        `json:"uncertainty"`
	GuardPenalty       float64        `json:"guardPenalty"`
	PolicyMode         PolicyMode     `json:"policyMode"`
	Timestamp          time.Time      `json:"timestamp"`
}

// DeletionRecord is the payload logged for every completed deletion,
// carrying enough to later attribute reclaimed bytes back to a
// watched root (see blame(top_n) in the CLI command surface).
type DeletionRecord struct {
	Path       string    `json:"path"`
	Root       string    `json:"root"`
	SizeBytes  int64     `json:"sizeBytes"`
	DecisionID string    `json:"decisionId"`
	Timestamp  time.Time `json:"timestamp"`
}

// BallastFile describes one provisioned sacrificial file owned by
// exactly one volume pool.
type BallastFile struct {
	VolumeRoot  string    `json:"volumeRoot"`
	Index       int       `json:"index"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
	HeaderMagic string    `json:"headerMagic"`
}

// ProtectionMark records why a candidate was protected.
type ProtectionMark struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// GuardStatus is the calibration state reported by the guardrails
// package.
type GuardStatus string

const (
	GuardUnknown GuardStatus = "unknown"
	GuardPass    GuardStatus = "pass"
	GuardFail    GuardStatus = "fail"
)

// GuardState is the guardrails package's rolling calibration state.
type GuardState struct {
	Status GuardStatus `json:"status"`
	ELog   float64     `json:"eLog"`

	RateErrorWindow      []float64 `json:"rateErrorWindow"`
	TTEConservativeWindow []bool    `json:"tteConservativeWindow"`
}

// PolicyMode is the progressive-delivery state of the policy engine.
type PolicyMode string

const (
	PolicyObserve      PolicyMode = "observe"
	PolicyCanary        PolicyMode = "canary"
	PolicyEnforce       PolicyMode = "enforce"
	PolicyFallbackSafe  PolicyMode = "fallback_safe"
)

// ActivityEventType tags the variant carried by an ActivityEvent.
type ActivityEventType string

const (
	EventPressureSample    ActivityEventType = "pressure_sample"
	EventDecision          ActivityEventType = "decision"
	EventDeletion          ActivityEventType = "deletion"
	EventBallastOp         ActivityEventType = "ballast_op"
	EventPolicyTransition  ActivityEventType = "policy_transition"
	EventGuardAlarm        ActivityEventType = "guard_alarm"
	EventError             ActivityEventType = "error"
)

// ActivityEvent is the common envelope written to both activity-log
// sinks. Payload holds the type-specific body, already JSON-encodable.
type ActivityEvent struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Type      ActivityEventType `json:"type"`
	Payload   any               `json:"payload"`
}

// ThreadHealth reports the self-monitor's view of one daemon worker.
type ThreadHealth struct {
	Name          string    `json:"name"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Respawns      int       `json:"respawns"`
	Stale         bool      `json:"stale"`
}

// DaemonState is the snapshot persisted atomically for external
// readers. A snapshot older than 90s must be treated as stale.
type DaemonState struct {
	SchemaVersion    string                  `json:"schemaVersion"`
	LastWriteInstant time.Time               `json:"lastWriteInstant"`
	FreeMetric       FreeMetric              `json:"freeMetric"`
	PressureByMount  map[string]PressureLevel `json:"pressureByMount"`
	RatesByMount     map[string]RateEstimate  `json:"ratesByMount"`
	Urgency          float64                 `json:"urgency"`
	PolicyMode       PolicyMode              `json:"policyMode"`
	BallastInventory map[string]int          `json:"ballastInventory"`
	ThreadHealth     []ThreadHealth          `json:"threadHealth"`
	RSSBytes         uint64                  `json:"rssBytes"`
}

// Stale reports whether this snapshot should be distrusted by a
// reader given the current time.
func (s DaemonState) Stale(now time.Time) bool {
	return now.Sub(s.LastWriteInstant) > 90*time.Second
}
