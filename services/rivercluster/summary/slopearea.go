// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summary

import (
	"fmt"
	"math"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/assign"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultAreaThreshold is the drainage area (m^2) below which nodes are
	// left out of the slope-area fit.
	DefaultAreaThreshold = 1000.0

	// DefaultBins is the number of log-area bins.
	DefaultBins = 20
)

// Bin is one log10(area) bin of log10(slope) values.
type Bin struct {
	Centre float64 `json:"log_area"`
	Count  int     `json:"count"`
	Spread
}

// BinSlopeArea bins log10(slope) by log10(area) into nbins equal-width bins
// spanning the data range. The last bin includes its right edge. Empty bins
// are omitted. Samples with non-positive or missing slope or area are skipped.
func BinSlopeArea(slope, area []float64, nbins int) []Bin {
	var logS, logA []float64
	for i := range slope {
		s, a := slope[i], area[i]
		if !(s > 0) || !(a > 0) || math.IsInf(s, 0) || math.IsInf(a, 0) {
			continue
		}
		logS = append(logS, math.Log10(s))
		logA = append(logA, math.Log10(a))
	}
	if len(logA) == 0 || nbins < 1 {
		return nil
	}

	lo, hi := floats.Min(logA), floats.Max(logA)
	if lo == hi {
		// A single value gets a unit-width range centred on it.
		lo, hi = lo-0.5, hi+0.5
	}
	width := (hi - lo) / float64(nbins)

	buckets := make([][]float64, nbins)
	for i, a := range logA {
		b := int((a - lo) / width)
		if b >= nbins {
			b = nbins - 1
		}
		buckets[b] = append(buckets[b], logS[i])
	}

	var bins []Bin
	for b, values := range buckets {
		if len(values) == 0 {
			continue
		}
		bins = append(bins, Bin{
			Centre: lo + width*(float64(b)+0.5),
			Count:  len(values),
			Spread: spreadOf(values),
		})
	}
	return bins
}

// PowerLaw is the fit S = ks * A^(-theta) through binned medians.
type PowerLaw struct {
	// Intercept and Gradient are the OLS coefficients in log10 space.
	Intercept float64 `json:"intercept"`
	Gradient  float64 `json:"gradient"`

	// Ks is the steepness index 10^Intercept.
	Ks float64 `json:"ks"`

	// Theta is the concavity |Gradient|.
	Theta float64 `json:"theta"`

	// KsErr is 10^(standard error of Intercept) and ThetaErr the standard
	// error of Gradient. Both are nil when only two bins were fitted.
	KsErr    *float64 `json:"ks_err,omitempty"`
	ThetaErr *float64 `json:"theta_err,omitempty"`

	Bins []Bin `json:"bins"`
}

// FitPowerLaw regresses bin medians on bin centres.
func FitPowerLaw(bins []Bin) (*PowerLaw, error) {
	if len(bins) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewBins, len(bins))
	}
	x := make([]float64, len(bins))
	y := make([]float64, len(bins))
	for i, b := range bins {
		x[i], y[i] = b.Centre, b.Median
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)

	fit := &PowerLaw{
		Intercept: alpha,
		Gradient:  beta,
		Ks:        math.Pow(10, alpha),
		Theta:     math.Abs(beta),
		Bins:      bins,
	}

	m := float64(len(bins))
	if len(bins) > 2 {
		mx := stat.Mean(x, nil)
		var ssr, sxx float64
		for i := range x {
			r := y[i] - (alpha + beta*x[i])
			ssr += r * r
			sxx += (x[i] - mx) * (x[i] - mx)
		}
		s2 := ssr / (m - 2)
		seBeta := math.Sqrt(s2 / sxx)
		seAlpha := math.Sqrt(s2 * (1/m + mx*mx/sxx))
		ksErr := math.Pow(10, seAlpha)
		fit.KsErr = &ksErr
		fit.ThetaErr = &seBeta
	}
	return fit, nil
}

// ClusterSlopeArea is the slope-area fit of one cluster.
type ClusterSlopeArea struct {
	ClusterID int       `json:"cluster_id"`
	Colour    string    `json:"colour"`
	Nodes     int       `json:"nodes"`
	Fit       *PowerLaw `json:"fit,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SlopeArea fits a power law per cluster.
//
// # Description
//
// When the table carries node ids, nodes claimed by more than one cluster
// are removed first. Only nodes with drainage area above areaThreshold and a
// positive slope enter the fit. A cluster whose fit cannot be computed is
// reported with Error set instead of failing the whole summary.
func SlopeArea(ct *assign.ClusteredTable, areaThreshold float64, nbins int) []ClusterSlopeArea {
	if nbins < 1 {
		nbins = DefaultBins
	}
	if ct.Columns.Node {
		ct = RemoveSharedNodes(ct)
	}

	var out []ClusterSlopeArea
	for _, cl := range ct.ClusterIDs() {
		var slope, area []float64
		for _, p := range ct.Cluster(cl).Profiles {
			for _, n := range p.Nodes {
				if n.DrainageArea > areaThreshold && n.HasSlope() && n.Slope > 0 {
					slope = append(slope, n.Slope)
					area = append(area, n.DrainageArea)
				}
			}
		}
		entry := ClusterSlopeArea{ClusterID: cl, Colour: assign.Colour(cl), Nodes: len(slope)}
		fit, err := FitPowerLaw(BinSlopeArea(slope, area, nbins))
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Fit = fit
		}
		out = append(out, entry)
	}
	return out
}

// RemoveSharedNodes drops every node whose node id appears in more than one
// cluster. Profiles left empty are dropped too.
func RemoveSharedNodes(ct *assign.ClusteredTable) *assign.ClusteredTable {
	owner := make(map[int64]int)
	shared := make(map[int64]bool)
	for _, p := range ct.Profiles {
		for _, n := range p.Nodes {
			if cl, ok := owner[n.NodeID]; ok && cl != p.ClusterID {
				shared[n.NodeID] = true
			}
			owner[n.NodeID] = p.ClusterID
		}
	}

	out := &assign.ClusteredTable{Columns: ct.Columns}
	for _, p := range ct.Profiles {
		var nodes []profile.Node
		for _, n := range p.Nodes {
			if !shared[n.NodeID] {
				nodes = append(nodes, n)
			}
		}
		if len(nodes) == 0 {
			continue
		}
		out.Profiles = append(out.Profiles, assign.ClusteredProfile{
			SourceID:  p.SourceID,
			ClusterID: p.ClusterID,
			Colour:    p.Colour,
			Nodes:     nodes,
		})
	}
	return out
}
