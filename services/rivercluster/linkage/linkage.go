// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linkage builds agglomerative merge trees from a condensed
// dissimilarity vector and cuts them into flat clusters.
//
// Merge trees use the usual encoding: leaves are 0..n-1 and the cluster
// created by merge k gets id n+k.
package linkage

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownMethod is returned for unsupported linkage method names.
	ErrUnknownMethod = errors.New("unknown linkage method")

	// ErrCondensedSize is returned when the condensed vector does not hold
	// n*(n-1)/2 entries.
	ErrCondensedSize = errors.New("condensed distance vector has wrong size")

	// ErrNonFinite is returned when a distance is NaN or infinite.
	ErrNonFinite = errors.New("non-finite distance")

	// ErrNoLeaves is returned for an empty input.
	ErrNoLeaves = errors.New("linkage needs at least one observation")
)

// Merge is one step of the tree.
type Merge struct {
	// Left is the smaller of the two merged cluster ids.
	Left int `json:"left"`

	// Right is the larger of the two merged cluster ids.
	Right int `json:"right"`

	// Height is the linkage distance between the merged clusters.
	Height float64 `json:"height"`

	// Size is the number of leaves under the new cluster.
	Size int `json:"size"`
}

// Tree is a complete merge tree over N leaves with N-1 merges.
type Tree struct {
	N      int     `json:"n"`
	Method Method  `json:"method"`
	Merges []Merge `json:"merges"`
}

// Build runs naive agglomerative clustering.
//
// # Description
//
// At every step the closest pair of active clusters is merged and its
// distances to the remaining clusters are updated with the method's
// Lance-Williams rule. When several pairs share the minimum distance the
// first one in row-major scan order of the lower active slots wins, which
// keeps the tree deterministic for a given input order. O(n^3) time and
// O(n^2) memory.
//
// # Inputs
//
//   - condensed: Upper-triangle distances in row-major order.
//   - n: Number of observations.
//   - method: Linkage rule.
//
// # Outputs
//
//   - *Tree: n-1 merges in the order they were made.
//   - error: ErrNoLeaves, ErrCondensedSize, ErrNonFinite or ErrUnknownMethod.
func Build(condensed []float64, n int, method Method) (*Tree, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if n < 1 {
		return nil, ErrNoLeaves
	}
	if want := n * (n - 1) / 2; len(condensed) != want {
		return nil, fmt.Errorf("%w: got %d, want %d for %d observations", ErrCondensedSize, len(condensed), want, n)
	}
	for i, d := range condensed {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w at position %d", ErrNonFinite, i)
		}
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist[i][j] = condensed[k]
			dist[j][i] = condensed[k]
			k++
		}
	}

	// slot s holds cluster ids[s] with size[s] leaves while active[s].
	ids := make([]int, n)
	size := make([]int, n)
	active := make([]bool, n)
	for s := range ids {
		ids[s], size[s], active[s] = s, 1, true
	}

	tree := &Tree{N: n, Method: method, Merges: make([]Merge, 0, n-1)}
	for step := 0; step < n-1; step++ {
		a, b := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist[i][j] < best {
					best, a, b = dist[i][j], i, j
				}
			}
		}

		for s := 0; s < n; s++ {
			if !active[s] || s == a || s == b {
				continue
			}
			d := method.update(dist[a][s], dist[b][s], best, size[a], size[b], size[s])
			dist[a][s], dist[s][a] = d, d
		}

		left, right := ids[a], ids[b]
		if left > right {
			left, right = right, left
		}
		tree.Merges = append(tree.Merges, Merge{Left: left, Right: right, Height: best, Size: size[a] + size[b]})

		ids[a] = n + step
		size[a] += size[b]
		active[b] = false
	}
	return tree, nil
}

// Heights returns the merge heights in merge order.
func (t *Tree) Heights() []float64 {
	out := make([]float64, len(t.Merges))
	for i, m := range t.Merges {
		out[i] = m.Height
	}
	return out
}

// MaxHeight returns the largest merge height, or 0 for a single leaf.
func (t *Tree) MaxHeight() float64 {
	var h float64
	for _, m := range t.Merges {
		h = math.Max(h, m.Height)
	}
	return h
}

// Inversions counts merges lower than an earlier merge they contain.
// Always zero for monotonic methods.
func (t *Tree) Inversions() int {
	count := 0
	for _, m := range t.Merges {
		for _, child := range [2]int{m.Left, m.Right} {
			if child >= t.N && t.Merges[child-t.N].Height > m.Height {
				count++
			}
		}
	}
	return count
}

// Leaves returns the leaf ids in dendrogram order, left subtree first.
func (t *Tree) Leaves() []int {
	if len(t.Merges) == 0 {
		return []int{0}
	}
	out := make([]int, 0, t.N)
	stack := []int{t.N + len(t.Merges) - 1}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id < t.N {
			out = append(out, id)
			continue
		}
		m := t.Merges[id-t.N]
		stack = append(stack, m.Right, m.Left)
	}
	return out
}

// maxDists returns, per merge, the largest height in its subtree.
func (t *Tree) maxDists() []float64 {
	out := make([]float64, len(t.Merges))
	for k, m := range t.Merges {
		h := m.Height
		for _, child := range [2]int{m.Left, m.Right} {
			if child >= t.N {
				h = math.Max(h, out[child-t.N])
			}
		}
		out[k] = h
	}
	return out
}

// Cut assigns flat cluster labels with the distance criterion.
//
// # Description
//
// Two leaves share a cluster when every merge on the path joining them has
// height at most threshold. With inversions the subtree maximum is used, so
// a subtree is kept whole only if none of its merges exceed the threshold.
// Labels start at 1 and are numbered in order of first appearance when the
// leaves are scanned 0..N-1. A threshold <= 0 always yields N singletons,
// even when some leaves merged at height 0.
//
// # Outputs
//
//   - []int: Label per leaf.
func (t *Tree) Cut(threshold float64) []int {
	group := make([]int, t.N)
	if threshold <= 0 {
		for i := range group {
			group[i] = i
		}
		return relabel(group)
	}
	if len(t.Merges) == 0 {
		return relabel(group)
	}

	maxd := t.maxDists()
	next := 0
	var assign func(id, g int)
	assign = func(id, g int) {
		if id < t.N {
			group[id] = g
			return
		}
		m := t.Merges[id-t.N]
		assign(m.Left, g)
		assign(m.Right, g)
	}
	var walk func(id int)
	walk = func(id int) {
		if id < t.N {
			group[id] = next
			next++
			return
		}
		if maxd[id-t.N] <= threshold {
			assign(id, next)
			next++
			return
		}
		m := t.Merges[id-t.N]
		walk(m.Left)
		walk(m.Right)
	}
	walk(t.N + len(t.Merges) - 1)
	return relabel(group)
}

// relabel renumbers groups 1.. in first-appearance order.
func relabel(group []int) []int {
	seen := make(map[int]int)
	out := make([]int, len(group))
	for i, g := range group {
		label, ok := seen[g]
		if !ok {
			label = len(seen) + 1
			seen[g] = label
		}
		out[i] = label
	}
	return out
}

// ClusterCount returns the number of distinct labels.
func ClusterCount(labels []int) int {
	highest := 0
	for _, l := range labels {
		if l > highest {
			highest = l
		}
	}
	return highest
}
