// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summary computes per-cluster descriptive statistics: median
// resampled profiles, slope-area power-law fits and gradient statistics.
package summary

import (
	"errors"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoData is returned when a cluster has no usable samples.
	ErrNoData = errors.New("no usable samples")

	// ErrTooFewBins is returned when fewer than two bins hold data.
	ErrTooFewBins = errors.New("slope-area fit needs at least two populated bins")
)

// Spread is the median and interquartile bounds of a sample.
type Spread struct {
	Median float64 `json:"median"`
	Lower  float64 `json:"p25"`
	Upper  float64 `json:"p75"`
}

// IQR returns Upper - Lower.
func (s Spread) IQR() float64 { return s.Upper - s.Lower }

// spreadOf summarises values. It returns NaN fields for an empty sample.
// values is not modified.
func spreadOf(values []float64) Spread {
	if len(values) == 0 {
		return Spread{Median: math.NaN(), Lower: math.NaN(), Upper: math.NaN()}
	}
	median, err := stats.Median(values)
	if err != nil {
		median = math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Spread{
		Median: median,
		Lower:  stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Upper:  stat.Quantile(0.75, stat.LinInterp, sorted, nil),
	}
}
