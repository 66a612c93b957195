// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resample maps slope-annotated profiles onto a common regular
// distance grid by nearest-sample lookup.
package resample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidGrid is returned when profile length or step cannot form a grid.
var ErrInvalidGrid = errors.New("invalid resampling grid")

// Resampler holds the regular grid parameters.
//
// # Description
//
// The grid is g_k = k*step for k = 0 .. ceil(ProfileLen/Step)-1. A profile
// qualifies when its count of defined slopes is at least ProfileLen/sqrt(2);
// non-qualifying profiles are dropped, never padded. For every grid point
// the defined-slope sample nearest in distance from source is copied, with
// ties resolved toward the lower index. Nothing is interpolated.
//
// # Thread Safety
//
// Resampler is immutable and safe for concurrent use.
type Resampler struct {
	profileLen float64
	step       float64
	grid       []float64
}

// New creates a Resampler.
func New(profileLen, step float64) (*Resampler, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be positive, got %v", ErrInvalidGrid, step)
	}
	if !(profileLen >= step) || math.IsInf(profileLen, 0) {
		return nil, fmt.Errorf("%w: profile length %v must be at least one step (%v)", ErrInvalidGrid, profileLen, step)
	}

	// Guard against ratios like 10/0.1 landing a hair above an integer.
	n := int(math.Ceil(profileLen/step - 1e-9))
	grid := make([]float64, n)
	for k := range grid {
		grid[k] = float64(k) * step
	}
	return &Resampler{profileLen: profileLen, step: step, grid: grid}, nil
}

// Grid returns a copy of the regular distance grid.
func (r *Resampler) Grid() []float64 {
	out := make([]float64, len(r.grid))
	copy(out, r.grid)
	return out
}

// Len returns the resampled vector length.
func (r *Resampler) Len() int { return len(r.grid) }

// MinValidSamples returns the qualification bound ProfileLen/sqrt(2).
func (r *Resampler) MinValidSamples() float64 {
	return r.profileLen / math.Sqrt2
}

// Qualifies reports whether p carries enough defined slopes to be resampled.
func (r *Resampler) Qualifies(p profile.Profile) bool {
	return float64(p.ValidSlopeCount()) >= r.MinValidSamples()
}

// NearestIndex returns the index of the value in sorted closest to target.
// Ties go to the lower index. sorted must be non-decreasing and non-empty.
func NearestIndex(sorted []float64, target float64) int {
	idx := sort.SearchFloat64s(sorted, target)
	if idx > 0 && (idx == len(sorted) || target-sorted[idx-1] <= sorted[idx]-target) {
		return idx - 1
	}
	return idx
}

// Resampled is one profile on the regular grid.
type Resampled struct {
	SourceID int64 `json:"id"`

	// Slopes holds one value per grid point.
	Slopes []float64 `json:"slopes"`

	// Areas holds the drainage area of the sample copied to each grid point.
	Areas []float64 `json:"areas"`

	// Nodes holds the sample copied to each grid point.
	Nodes []profile.Node `json:"-"`
}

// Result is the output of Table.
type Result struct {
	// Grid is the shared regular distance grid.
	Grid []float64 `json:"grid"`

	// Profiles are the qualifying profiles in input order.
	Profiles []Resampled `json:"profiles"`

	// Thinned holds the defined-slope rows of every qualifying profile.
	Thinned *profile.Table `json:"-"`

	// Dropped lists sources that failed qualification.
	Dropped []int64 `json:"dropped,omitempty"`
}

// SourceIDs returns the ids of the resampled profiles in order.
func (res *Result) SourceIDs() []int64 {
	ids := make([]int64, len(res.Profiles))
	for i, p := range res.Profiles {
		ids[i] = p.SourceID
	}
	return ids
}

// Vectors returns the slope vectors in profile order. The slices are shared.
func (res *Result) Vectors() [][]float64 {
	out := make([][]float64, len(res.Profiles))
	for i, p := range res.Profiles {
		out[i] = p.Slopes
	}
	return out
}

// Matrix returns the profiles as an n x len(Grid) dense matrix, or nil when
// there are no profiles.
func (res *Result) Matrix() *mat.Dense {
	if len(res.Profiles) == 0 {
		return nil
	}
	m := mat.NewDense(len(res.Profiles), len(res.Grid), nil)
	for i, p := range res.Profiles {
		m.SetRow(i, p.Slopes)
	}
	return m
}

// Profile resamples a single profile. ok is false when p does not qualify.
func (r *Resampler) Profile(p profile.Profile) (Resampled, profile.Profile, bool) {
	valid := p.WithValidSlopes()
	if float64(valid.Len()) < r.MinValidSamples() || valid.Len() == 0 {
		return Resampled{}, profile.Profile{}, false
	}

	distances := valid.Distances()
	out := Resampled{
		SourceID: p.SourceID,
		Slopes:   make([]float64, len(r.grid)),
		Areas:    make([]float64, len(r.grid)),
		Nodes:    make([]profile.Node, len(r.grid)),
	}
	for k, g := range r.grid {
		n := valid.Nodes[NearestIndex(distances, g)]
		out.Slopes[k] = n.Slope
		out.Areas[k] = n.DrainageArea
		out.Nodes[k] = n
	}
	return out, valid, true
}

// Table resamples every profile of t.
//
// # Inputs
//
//   - ctx: Checked between profiles.
//   - t: Slope-annotated table. Not modified.
//
// # Outputs
//
//   - *Result: Resampled vectors, thinned table and dropped ids.
//   - error: Non-nil only on cancellation.
func (r *Resampler) Table(ctx context.Context, t *profile.Table) (*Result, error) {
	res := &Result{
		Grid:    r.Grid(),
		Thinned: &profile.Table{Columns: t.Columns},
	}
	for _, p := range t.Profiles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		rp, thinned, ok := r.Profile(p)
		if !ok {
			res.Dropped = append(res.Dropped, p.SourceID)
			continue
		}
		res.Profiles = append(res.Profiles, rp)
		res.Thinned.Profiles = append(res.Thinned.Profiles, thinned)
	}
	return res, nil
}
