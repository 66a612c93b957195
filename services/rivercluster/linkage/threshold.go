// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linkage

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidCorrelation is returned for a minimum correlation outside [-1, 1].
	ErrInvalidCorrelation = errors.New("minimum correlation must be within [-1, 1]")

	// ErrInvalidPercentile is returned for a quantile outside (0, 1].
	ErrInvalidPercentile = errors.New("percentile must be within (0, 1]")

	// ErrUnknownRule is returned for unsupported threshold rules.
	ErrUnknownRule = errors.New("unknown threshold rule")
)

// Rule selects how a threshold is derived when none is supplied.
type Rule string

const (
	// RuleGap cuts in the middle of the widest gap between sorted heights.
	RuleGap Rule = "gap"

	// RulePercentile cuts at a quantile of the merge heights.
	RulePercentile Rule = "percentile"
)

// DefaultPercentile is the quantile used by RulePercentile when unset.
const DefaultPercentile = 0.7

// ParseRule resolves a rule name, ignoring case and surrounding space.
func ParseRule(s string) (Rule, error) {
	r := Rule(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RuleGap, RulePercentile:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// CorrelationThreshold converts a minimum correlation into an angular
// distance threshold, arccos(minCorr).
func CorrelationThreshold(minCorr float64) (float64, error) {
	if math.IsNaN(minCorr) || minCorr < -1 || minCorr > 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidCorrelation, minCorr)
	}
	return math.Acos(minCorr), nil
}

// GapThreshold returns the midpoint of the largest gap between consecutive
// merge heights, with 0 taken as the lowest height. The earliest gap wins
// ties. A tree without merges yields 0.
//
// The result is always below the highest merge, so whenever that merge has a
// positive height the cut leaves at least two clusters. Two profiles are
// split even when nearly identical; callers wanting a single cluster to be
// possible should supply a minimum correlation instead.
func GapThreshold(t *Tree) float64 {
	heights := sortedHeights(t)
	if len(heights) == 0 {
		return 0
	}
	levels := append([]float64{0}, heights...)
	bestGap, at := -1.0, 0
	for i := 1; i < len(levels); i++ {
		if gap := levels[i] - levels[i-1]; gap > bestGap {
			bestGap, at = gap, i
		}
	}
	return (levels[at-1] + levels[at]) / 2
}

// PercentileThreshold returns the linearly interpolated q-quantile of the
// merge heights. A tree without merges yields 0.
func PercentileThreshold(t *Tree, q float64) (float64, error) {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidPercentile, q)
	}
	heights := sortedHeights(t)
	if len(heights) == 0 {
		return 0, nil
	}
	return stat.Quantile(q, stat.LinInterp, heights, nil), nil
}

// Threshold derives a cut height from rule, using q for RulePercentile.
func Threshold(t *Tree, rule Rule, q float64) (float64, error) {
	switch rule {
	case RuleGap:
		return GapThreshold(t), nil
	case RulePercentile:
		if q == 0 {
			q = DefaultPercentile
		}
		return PercentileThreshold(t, q)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
}

func sortedHeights(t *Tree) []float64 {
	heights := t.Heights()
	sort.Float64s(heights)
	return heights
}
