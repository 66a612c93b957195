// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"fmt"
	"math"
	"sort"
)

// Table is an immutable collection of profiles.
//
// Profiles appear in the order their source id was first seen in the input.
type Table struct {
	Profiles []Profile `json:"profiles"`
	Columns  Columns   `json:"columns"`
}

// NewTable groups nodes by source id and sorts each group by distance from
// source.
//
// Description:
//
//	Profiles are created in first-appearance order of their source id. Each
//	profile's nodes are stable-sorted by DistanceFromSource so that rows
//	with equal distance keep their input order. The nodes slice is not
//	retained.
//
// Inputs:
//
//	nodes - Flat node rows, grouped implicitly by SourceID.
//	cols - Optional columns present in the input.
//
// Outputs:
//
//	*Table - The grouped table.
func NewTable(nodes []Node, cols Columns) *Table {
	index := make(map[int64]int)
	var profiles []Profile
	for _, n := range nodes {
		i, ok := index[n.SourceID]
		if !ok {
			i = len(profiles)
			index[n.SourceID] = i
			profiles = append(profiles, Profile{SourceID: n.SourceID})
		}
		profiles[i].Nodes = append(profiles[i].Nodes, n)
	}
	for i := range profiles {
		sort.SliceStable(profiles[i].Nodes, func(a, b int) bool {
			return profiles[i].Nodes[a].DistanceFromSource < profiles[i].Nodes[b].DistanceFromSource
		})
	}
	return &Table{Profiles: profiles, Columns: cols}
}

// Len returns the number of profiles.
func (t *Table) Len() int {
	return len(t.Profiles)
}

// NodeCount returns the total number of nodes across profiles.
func (t *Table) NodeCount() int {
	total := 0
	for _, p := range t.Profiles {
		total += len(p.Nodes)
	}
	return total
}

// SourceIDs returns the source ids in table order.
func (t *Table) SourceIDs() []int64 {
	ids := make([]int64, len(t.Profiles))
	for i, p := range t.Profiles {
		ids[i] = p.SourceID
	}
	return ids
}

// Profile returns the profile for a source id.
func (t *Table) Profile(id int64) (Profile, bool) {
	for _, p := range t.Profiles {
		if p.SourceID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	profiles := make([]Profile, len(t.Profiles))
	for i, p := range t.Profiles {
		profiles[i] = p.Clone()
	}
	return &Table{Profiles: profiles, Columns: t.Columns}
}

// Filter returns a new table holding deep copies of the profiles for which
// keep returns true.
func (t *Table) Filter(keep func(Profile) bool) *Table {
	var profiles []Profile
	for _, p := range t.Profiles {
		if keep(p) {
			profiles = append(profiles, p.Clone())
		}
	}
	return &Table{Profiles: profiles, Columns: t.Columns}
}

// Nodes returns every node in table order.
func (t *Table) Nodes() []Node {
	out := make([]Node, 0, t.NodeCount())
	for _, p := range t.Profiles {
		out = append(out, p.Nodes...)
	}
	return out
}

// Validate checks the per-profile invariants.
//
// Description:
//
//	Every node must belong to its profile, distance from source must be
//	non-decreasing and the numeric fields must be finite. Slopes may be NaN.
//
// Outputs:
//
//	error - An *InvalidProfileError describing the first violation, or nil.
func (t *Table) Validate() error {
	seen := make(map[int64]bool, len(t.Profiles))
	for _, p := range t.Profiles {
		if seen[p.SourceID] {
			return &InvalidProfileError{SourceID: p.SourceID, Reason: "duplicate source id"}
		}
		seen[p.SourceID] = true
		for i, n := range p.Nodes {
			if n.SourceID != p.SourceID {
				return &InvalidProfileError{SourceID: p.SourceID, Reason: fmt.Sprintf("node %d belongs to source %d", i, n.SourceID)}
			}
			fields := [...]struct {
				name  string
				value float64
			}{
				{ColDistanceFromSource, n.DistanceFromSource},
				{ColDistanceFromOutlet, n.DistanceFromOutlet},
				{ColElevation, n.Elevation},
				{ColDrainageArea, n.DrainageArea},
			}
			for _, f := range fields {
				if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
					return &InvalidProfileError{SourceID: p.SourceID, Reason: fmt.Sprintf("node %d has non-finite %s", i, f.name)}
				}
			}
			if i > 0 && n.DistanceFromSource < p.Nodes[i-1].DistanceFromSource {
				return &InvalidProfileError{SourceID: p.SourceID, Reason: fmt.Sprintf("distance from source decreases at node %d", i)}
			}
		}
	}
	return nil
}
