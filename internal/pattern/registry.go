// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package pattern holds the location/name/structure pattern registries
// used by the scorer, and the protection registry consulted by the
// safety layer before scoring completes.
package pattern

import (
	"path/filepath"
	"strings"
)

// locationRule maps a path, matched by whole path segment or segment
// prefix, to a location score.
type locationRule struct {
	match func(path string) bool
	score float64
}

// defaultLocationRules is ordered most-specific first; the first
// matching rule wins.
var defaultLocationRules = []locationRule{
	{match: hasSegment("tmp", "shm"), score: 0.95},
	{match: hasSegment(".cache", "build", "target", "dist", "out", "node_modules"), score: 0.82},
	{match: hasSegment("cache"), score: 0.60},
	{match: hasSegment("etc", "usr", "bin", "sbin", "boot", "sys", "proc"), score: 0.0},
	{match: hasSegment("documents", "desktop", "pictures", "music", "videos"), score: 0.10},
}

const defaultLocationScore = 0.40 // generic project trees

// LocationScore scores a candidate path against the location pattern
// table, bounded to [0,1].
func LocationScore(path string) float64 {
	for _, rule := range defaultLocationRules {
		if rule.match(path) {
			return rule.score
		}
	}
	return defaultLocationScore
}

func hasSegment(segments ...string) func(string) bool {
	return func(path string) bool {
		parts := strings.Split(filepath.ToSlash(path), "/")
		for _, p := range parts {
			lower := strings.ToLower(p)
			for _, seg := range segments {
				if lower == seg || strings.HasPrefix(lower, seg) {
					return true
				}
			}
		}
		return false
	}
}

// namePattern is a known build-artifact name pattern with an assigned
// confidence.
type namePattern struct {
	glob  string
	score float64
}

var defaultNamePatterns = []namePattern{
	{glob: "*.o", score: 0.90},
	{glob: "*.pyc", score: 0.90},
	{glob: "*.class", score: 0.85},
	{glob: "*.tmp", score: 0.85},
	{glob: "*~", score: 0.80},
	{glob: "node_modules", score: 0.85},
	{glob: "target", score: 0.85},
	{glob: "build", score: 0.75},
	{glob: "dist", score: 0.75},
	{glob: ".DS_Store", score: 0.70},
}

const defaultNameScore = 0.30

// NameScore scores a candidate's base name against the known artifact
// name registry.
func NameScore(path string) float64 {
	base := filepath.Base(path)
	for _, p := range defaultNamePatterns {
		if ok, _ := filepath.Match(p.glob, base); ok {
			return p.score
		}
	}
	return defaultNameScore
}

// StructureSignal is a known directory-structure fingerprint.
type StructureSignal struct {
	Children []string // any one present is a positive signal
	AllOf    []string // all must be present
	Score    float64
}

var defaultStructureSignals = []StructureSignal{
	{Children: []string{".git"}, Score: 0.0}, // veto-worthy, never a candidate's own structure score alone
	{Children: []string{".fingerprint", "incremental"}, Score: 0.95},
	{AllOf: []string{"deps", "build"}, Score: 0.85},
}

const defaultStructureScore = 0.30

// StructureScore evaluates a candidate directory's children against
// the known fingerprint signals. children is the direct listing of
// candidate's own directory (callers are responsible for the
// ".git anywhere in subtree" final veto check, which is a safety
// concern, not a scoring one).
func StructureScore(children []string) float64 {
	set := make(map[string]struct{}, len(children))
	for _, c := range children {
		set[c] = struct{}{}
	}

	for _, sig := range defaultStructureSignals {
		if containsAny(set, sig.Children) {
			return sig.Score
		}
		if len(sig.AllOf) > 0 && containsAll(set, sig.AllOf) {
			return sig.Score
		}
	}
	return defaultStructureScore
}

// HasGitChild reports whether children includes a .git entry. The
// scorer does not call it; only this package's tests do.
func HasGitChild(children []string) bool {
	for _, c := range children {
		if c == ".git" {
			return true
		}
	}
	return false
}

func containsAny(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

func containsAll(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
