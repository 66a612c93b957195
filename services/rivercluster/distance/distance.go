// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package distance builds the angular dissimilarity matrix between
// resampled profiles, d(i,j) = arccos(pearson(i,j)).
package distance

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoVectors is returned when Angular receives no profiles.
	ErrNoVectors = errors.New("no profile vectors")

	// ErrLengthMismatch is returned when vectors differ in length or do not
	// match the id list.
	ErrLengthMismatch = errors.New("profile vectors have inconsistent lengths")
)

// DegenerateProfileError lists profiles whose resampled vector has zero
// variance, for which correlation is undefined.
type DegenerateProfileError struct {
	SourceIDs []int64
}

func (e *DegenerateProfileError) Error() string {
	return fmt.Sprintf("%d profile(s) have constant resampled slope, correlation undefined: %v", len(e.SourceIDs), e.SourceIDs)
}

// Matrix is a symmetric angular distance matrix with zero diagonal.
//
// Entries lie in [0, pi]. A profile with zero variance is at distance 0 from
// itself and pi from every other profile, including other degenerate ones.
type Matrix struct {
	ids        []int64
	sym        *mat.SymDense
	degenerate []int64
}

// Angular computes the pairwise angular distance between vectors.
//
// # Inputs
//
//   - vectors: One equal-length vector per profile.
//   - ids: Source id for each vector, same order.
//
// # Outputs
//
//   - *Matrix: The distance matrix. Degenerate vectors are recorded, not rejected.
//   - error: ErrNoVectors or ErrLengthMismatch.
func Angular(vectors [][]float64, ids []int64) (*Matrix, error) {
	n := len(vectors)
	if n == 0 {
		return nil, ErrNoVectors
	}
	if len(ids) != n {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", ErrLengthMismatch, n, len(ids))
	}
	width := len(vectors[0])
	for i, v := range vectors {
		if len(v) != width {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrLengthMismatch, i, len(v), width)
		}
	}

	constant := make([]bool, n)
	var degenerate []int64
	for i, v := range vectors {
		if isConstant(v) {
			constant[i] = true
			degenerate = append(degenerate, ids[i])
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Pi
			if !constant[i] && !constant[j] {
				d = math.Acos(Correlation(vectors[i], vectors[j]))
			}
			sym.SetSym(i, j, d)
		}
	}

	idCopy := make([]int64, n)
	copy(idCopy, ids)
	return &Matrix{ids: idCopy, sym: sym, degenerate: degenerate}, nil
}

// Correlation returns the Pearson correlation of x and y clipped to [-1, 1].
func Correlation(x, y []float64) float64 {
	r := stat.Correlation(x, y, nil)
	return math.Max(-1, math.Min(1, r))
}

func isConstant(v []float64) bool {
	if len(v) == 0 {
		return true
	}
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

// Len returns the number of profiles.
func (m *Matrix) Len() int { return len(m.ids) }

// IDs returns the source ids in matrix order.
func (m *Matrix) IDs() []int64 {
	out := make([]int64, len(m.ids))
	copy(out, m.ids)
	return out
}

// At returns the distance between profiles i and j.
func (m *Matrix) At(i, j int) float64 { return m.sym.At(i, j) }

// Symmetric exposes the matrix for gonum consumers.
func (m *Matrix) Symmetric() mat.Symmetric { return m.sym }

// Degenerate returns the ids of zero-variance profiles.
func (m *Matrix) Degenerate() []int64 {
	out := make([]int64, len(m.degenerate))
	copy(out, m.degenerate)
	return out
}

// CheckDegenerate returns a *DegenerateProfileError when any profile has
// zero variance.
func (m *Matrix) CheckDegenerate() error {
	if len(m.degenerate) == 0 {
		return nil
	}
	return &DegenerateProfileError{SourceIDs: m.Degenerate()}
}

// Condensed returns the upper triangle in row-major order:
// (0,1), (0,2), ..., (0,n-1), (1,2), ...
func (m *Matrix) Condensed() []float64 {
	n := m.Len()
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, m.sym.At(i, j))
		}
	}
	return out
}

// CondensedIndex returns the position of pair (i, j), i != j, in a
// condensed vector over n items.
func CondensedIndex(n, i, j int) int {
	if i > j {
		i, j = j, i
	}
	return n*i - i*(i+1)/2 + (j - i - 1)
}
