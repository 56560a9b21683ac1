// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package scoring implements the five-factor composite candidate
// score, the pressure multiplier, and the Bayesian expected-loss
// decision layer.
package scoring

import (
	"math"
	"sort"

	"github.com/google/uuid"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// AgeScore is non-monotonic: it peaks at 4-10 hours (prime staleness
// for build artifacts) and drops for very old files that may be
// intentionally archived.
func AgeScore(ageSecs float64) float64 {
	const hour = 3600.0
	ageHours := ageSecs / hour

	switch {
	case ageHours < 0:
		return 0
	case ageHours < 4:
		return ageHours / 4 // ramps 0 -> 1.00 over the first 4 hours
	case ageHours <= 10:
		return 1.0
	case ageHours <= 24*45:
		// Decays from 1.0 at 10h toward ~0.40 at 45 days.
		span := float64(24*45 - 10)
		frac := (ageHours - 10) / span
		return 1.0 - 0.60*frac
	default:
		return 0.40
	}
}

// SizeScore is monotone with diminishing returns above ~10 GiB.
func SizeScore(sizeBytes int64) float64 {
	const gib = 1 << 30
	sizeGiB := float64(sizeBytes) / gib
	if sizeGiB <= 0 {
		return 0
	}
	// log-scaled: 1 MiB -> ~0.002, 1 GiB -> ~0.5, 10 GiB+ -> saturates near 1.
	score := math.Log1p(sizeGiB*10) / math.Log1p(100)
	return clamp(score, 0, 1)
}

// Weights mirrors v1.ScoringWeights to keep this package decoupled
// from api/v1's yaml tags.
type Weights struct {
	Location, Name, Age, Size, Structure float64
}

// WeightsFrom adapts a validated v1.ScoringWeights into this
// package's Weights.
func WeightsFrom(w v1.ScoringWeights) Weights {
	return Weights{
		Location:  w.Location,
		Name:      w.Name,
		Age:       w.Age,
		Size:      w.Size,
		Structure: w.Structure,
	}
}

// Composite combines the five factors into a single score in [0,1].
// Callers are responsible for validating that weights sum to 1.0 and
// are each non-negative before calling this (see v1.Config.Validate).
func Composite(location, name, age, size, structure float64, w Weights) float64 {
	return w.Location*location + w.Name*name + w.Age*age + w.Size*size + w.Structure*structure
}

// pressureMultiplierPoints defines the piecewise-linear urgency ->
// multiplier curve: Green barely boosts, Critical triples.
var pressureMultiplierPoints = [][2]float64{
	{0.0, 1.0},
	{1.0, 3.0},
}

// PressureMultiplier is piecewise-linear in urgency over [1.0, 3.0].
func PressureMultiplier(urgency float64) float64 {
	u := clamp(urgency, 0, 1)
	lo, hi := pressureMultiplierPoints[0], pressureMultiplierPoints[1]
	frac := (u - lo[0]) / (hi[0] - lo[0])
	return lo[1] + frac*(hi[1]-lo[1])
}

// Posterior maps the pressure-scaled composite score and calibration
// confidence through a logit-sigmoid to P(abandoned).
func Posterior(scaledComposite, confidence float64) float64 {
	logit := 3.5*(scaledComposite-0.5) + 2.0*(confidence-0.5)
	return 1 / (1 + math.Exp(-logit))
}

// Entropy is the Shannon entropy (in bits) of a Bernoulli(p) variable.
func Entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
}

// Uncertainty blends decision entropy with calibration shortfall.
func Uncertainty(p, calibration float64) float64 {
	return 0.65*Entropy(p) + 0.35*(1-calibration)
}

// LossModel carries the asymmetric loss defaults that must be fixed
// for the lifetime of a run (see api/v1.ScoringConfig).
type LossModel struct {
	FalsePositive float64 // cost of deleting something useful
	FalseNegative float64 // cost of keeping something abandoned
}

// Outcome is the decision layer's verdict for one candidate.
type Outcome struct {
	Action             v1.DecisionAction
	ExpectedLossDelete float64
	ExpectedLossKeep   float64
	Posterior          float64
	Uncertainty        float64
}

// DecideParams bundles the inputs to Decide so call sites stay
// readable with this many knobs.
type DecideParams struct {
	Posterior    float64
	Calibration  float64
	Loss         LossModel
	GuardPenalty float64
	Margin       float64
	MinPosteriorFloor    float64 // min_posterior at zero uncertainty
	MinPosteriorSlope    float64 // how much min_posterior rises with uncertainty
	ReviewThreshold      float64 // uncertainty above which an undecided case becomes Review
}

// Decide applies the expected-loss rule: emit Delete iff
// E[loss|keep] - E[loss|delete] > margin and p >= min_posterior(u);
// otherwise Review when uncertainty is high, else Keep.
func Decide(p DecideParams) Outcome {
	u := Uncertainty(p.Posterior, p.Calibration)

	// Inflate the deletion loss by a factor monotone in uncertainty so
	// a noisier estimate needs a larger margin to justify deleting.
	inflation := 1 + u

	lossDelete := (1-p.Posterior)*p.Loss.FalsePositive*inflation + p.GuardPenalty
	lossKeep := p.Posterior * p.Loss.FalseNegative

	minPosterior := p.MinPosteriorFloor + p.MinPosteriorSlope*u

	action := v1.ActionKeep
	switch {
	case lossKeep-lossDelete > p.Margin && p.Posterior >= minPosterior:
		action = v1.ActionDelete
	case u > p.ReviewThreshold:
		action = v1.ActionReview
	}

	return Outcome{
		Action:             action,
		ExpectedLossDelete: lossDelete,
		ExpectedLossKeep:   lossKeep,
		Posterior:          p.Posterior,
		Uncertainty:        u,
	}
}

// Score runs a single candidate through the full factor -> composite
// -> pressure scaling -> posterior -> expected-loss pipeline and
// returns the annotated candidate alongside the decision outcome.
// urgency and calibration are daemon-wide values supplied by the
// pidctl and guardrails packages respectively.
func Score(c v1.Candidate, w Weights, urgency, calibration float64, loss LossModel, guardPenalty, margin, minFloor, minSlope, reviewThreshold float64) (v1.Candidate, Outcome) {
	c.LocationScore = clamp(c.LocationScore, 0, 1)
	c.NameScore = clamp(c.NameScore, 0, 1)
	c.AgeScore = clamp(c.AgeScore, 0, 1)
	c.SizeScore = clamp(c.SizeScore, 0, 1)
	c.StructureScore = clamp(c.StructureScore, 0, 1)

	c.CompositeScore = Composite(c.LocationScore, c.NameScore, c.AgeScore, c.SizeScore, c.StructureScore, w)

	scaled := clamp(c.CompositeScore*PressureMultiplier(urgency)/3.0, 0, 1)
	c.PosteriorAbandoned = Posterior(scaled, c.Confidence)

	outcome := Decide(DecideParams{
		Posterior:         c.PosteriorAbandoned,
		Calibration:        calibration,
		Loss:               loss,
		GuardPenalty:       guardPenalty,
		Margin:             margin,
		MinPosteriorFloor:  minFloor,
		MinPosteriorSlope:  minSlope,
		ReviewThreshold:    reviewThreshold,
	})
	return c, outcome
}

// Rank sorts candidates by composite score descending, breaking ties
// by path for determinism. Given identical inputs the ranking and the
// decision ids it assigns must be byte-identical across runs.
func Rank(candidates []v1.Candidate) []v1.Candidate {
	ranked := append([]v1.Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	return ranked
}

func less(a, b v1.Candidate) bool {
	if a.CompositeScore != b.CompositeScore {
		return a.CompositeScore > b.CompositeScore
	}
	return a.Path < b.Path
}

// NewDecisionID deterministically derives a decision id from the
// candidate path and sample instant so identical inputs yield
// identical ids, using uuid v5 (namespace + name) rather than a
// random v4 id.
func NewDecisionID(candidatePath string, sampleInstantUnixNano int64) string {
	ns := uuid.MustParse("9b4f6c2e-0b0d-4c9e-9d3f-5a6b2d3c1e7f")
	name := candidatePath + ":" + itoa(sampleInstantUnixNano)
	return uuid.NewSHA1(ns, []byte(name)).String()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
