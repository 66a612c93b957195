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
	"fmt"
	"math"
	"strings"
)

// Method is an agglomerative linkage rule.
type Method string

const (
	Single   Method = "single"
	Complete Method = "complete"
	Average  Method = "average"
	Weighted Method = "weighted"
	Centroid Method = "centroid"
	Median   Method = "median"
	Ward     Method = "ward"
)

// Methods lists every supported method.
var Methods = []Method{Single, Complete, Average, Weighted, Centroid, Median, Ward}

// ParseMethod resolves a method name, ignoring case and surrounding space.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
	return m, nil
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Monotonic reports whether merge heights never decrease under m.
// Centroid and median can produce inversions.
func (m Method) Monotonic() bool {
	return m != Centroid && m != Median
}

// update returns the distance from the cluster formed by merging i and j to
// another cluster k (Lance-Williams). Centroid, median and ward are applied
// to distances as in the squared-Euclidean recurrences, then square-rooted.
func (m Method) update(dik, djk, dij float64, si, sj, sk int) float64 {
	fi, fj, fk := float64(si), float64(sj), float64(sk)
	switch m {
	case Single:
		return math.Min(dik, djk)
	case Complete:
		return math.Max(dik, djk)
	case Average:
		return (fi*dik + fj*djk) / (fi + fj)
	case Weighted:
		return (dik + djk) / 2
	case Centroid:
		return safeSqrt((fi*dik*dik+fj*djk*djk)/(fi+fj) - fi*fj*dij*dij/((fi+fj)*(fi+fj)))
	case Median:
		return safeSqrt(dik*dik/2 + djk*djk/2 - dij*dij/4)
	case Ward:
		t := fi + fj + fk
		return safeSqrt(((fi+fk)*dik*dik + (fj+fk)*djk*djk - fk*dij*dij) / t)
	}
	return math.NaN()
}

func safeSqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
