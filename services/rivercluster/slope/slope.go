// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slope estimates channel gradient along a profile with a centred
// moving-window least-squares regression of elevation on distance.
package slope

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// MinWindow is the smallest window that leaves a node on each side.
const MinWindow = 3

// ErrInvalidWindow is returned for windows smaller than MinWindow.
var ErrInvalidWindow = errors.New("slope window must be at least 3 nodes")

// Estimator computes windowed regression slopes.
//
// # Description
//
// For the node at index i the regression covers nodes [i-h, i+h] with
// h = (W-1)/2. An odd W therefore regresses over exactly W nodes and an even
// W over W-1. Nodes whose window would run past either end of the profile
// get a missing (NaN) slope, and so does every node of a profile with fewer
// than W samples. The stored slope is the magnitude of the fitted gradient.
//
// # Thread Safety
//
// Estimator is immutable after construction and safe for concurrent use.
type Estimator struct {
	window  int
	half    int
	workers int
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithWorkers bounds the number of profiles processed concurrently by Table.
// Values below 1 fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Estimator) {
		e.workers = n
	}
}

// New creates an Estimator for the given window size.
func New(window int, opts ...Option) (*Estimator, error) {
	if window < MinWindow {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}
	e := &Estimator{
		window:  window,
		half:    (window - 1) / 2,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e, nil
}

// Window returns the configured window size.
func (e *Estimator) Window() int { return e.window }

// EffectiveWindow returns the number of nodes each regression actually uses.
func (e *Estimator) EffectiveWindow() int { return 2*e.half + 1 }

// Slopes returns one slope per sample, NaN where the window does not fit.
func (e *Estimator) Slopes(distance, elevation []float64) []float64 {
	n := len(distance)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if n < e.window || len(elevation) != n {
		return out
	}
	for i := e.half; i+e.half < n; i++ {
		lo, hi := i-e.half, i+e.half+1
		out[i] = WindowSlope(distance[lo:hi], elevation[lo:hi])
	}
	return out
}

// Profile returns a copy of p with the Slope of every node recomputed.
func (e *Estimator) Profile(p profile.Profile) profile.Profile {
	out := p.Clone()
	slopes := e.Slopes(p.Distances(), p.Elevations())
	for i := range out.Nodes {
		out.Nodes[i].Slope = slopes[i]
	}
	return out
}

// Stats summarises a Table run.
type Stats struct {
	Profiles   int     `json:"profiles"`
	Nodes      int     `json:"nodes"`
	ValidNodes int     `json:"valid_nodes"`
	TooShort   []int64 `json:"too_short,omitempty"`
}

// Table annotates every profile of t with slopes.
//
// # Description
//
// Profiles are independent, so they are processed concurrently with at
// most the configured number of workers. The result keeps t's profile order.
// Profiles too short for the window are kept with all slopes missing and
// listed in Stats.TooShort.
//
// # Inputs
//
//   - ctx: Cancellation stops scheduling further profiles.
//   - t: The input table. Not modified.
//
// # Outputs
//
//   - *profile.Table: New table with the slope column populated.
//   - Stats: Counts for logging and exclusion reporting.
//   - error: Non-nil only when ctx is cancelled.
func (e *Estimator) Table(ctx context.Context, t *profile.Table) (*profile.Table, Stats, error) {
	profiles := make([]profile.Profile, len(t.Profiles))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range t.Profiles {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			profiles[i] = e.Profile(t.Profiles[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, fmt.Errorf("estimate slopes: %w", err)
	}

	stats := Stats{Profiles: len(profiles)}
	for _, p := range profiles {
		stats.Nodes += p.Len()
		stats.ValidNodes += p.ValidSlopeCount()
		if p.Len() < e.window {
			stats.TooShort = append(stats.TooShort, p.SourceID)
		}
	}

	cols := t.Columns
	cols.Slope = true
	return &profile.Table{Profiles: profiles, Columns: cols}, stats, nil
}

// WindowSlope fits elevation = a + b*distance by ordinary least squares and
// returns |b|. It returns NaN when the distances do not vary.
func WindowSlope(distance, elevation []float64) float64 {
	if len(distance) < 2 || len(distance) != len(elevation) {
		return math.NaN()
	}
	first := distance[0]
	varies := false
	for _, d := range distance[1:] {
		if d != first {
			varies = true
			break
		}
	}
	if !varies {
		return math.NaN()
	}
	_, beta := stat.LinearRegression(distance, elevation, nil, false)
	return math.Abs(beta)
}
