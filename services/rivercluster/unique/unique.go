// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package unique selects the profiles that take part in clustering: the
// requested stream order, one representative per shared trunk, and an
// optional minimum length.
package unique

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
)

// ErrNoStreamOrder is returned when an order above 1 is requested from a
// table without a stream_order column.
var ErrNoStreamOrder = errors.New("table has no stream_order column")

// nodeKey identifies a channel node across profiles.
type nodeKey struct {
	node      int64
	outlet    float64
	elevation float64
}

func keyOf(n profile.Node, byNodeID bool) nodeKey {
	if byNodeID {
		return nodeKey{node: n.NodeID}
	}
	return nodeKey{outlet: n.DistanceFromOutlet, elevation: n.Elevation}
}

// RemoveNonUnique keeps one representative per shared downstream trunk.
//
// # Description
//
// Profiles are visited from longest to shortest (terminal distance from
// source), ties in ascending source id. A profile is kept when none of its
// nodes belongs to an already kept profile. Nodes are matched by the node
// column when the table has one and by (distance_from_outlet, elevation)
// otherwise. The returned table keeps the input order.
//
// # Outputs
//
//   - *profile.Table: The kept profiles.
//   - []int64: Ids of removed profiles, in input order.
func RemoveNonUnique(t *profile.Table) (*profile.Table, []int64) {
	order := make([]int, len(t.Profiles))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := t.Profiles[order[a]], t.Profiles[order[b]]
		if pa.Length() != pb.Length() {
			return pa.Length() > pb.Length()
		}
		return pa.SourceID < pb.SourceID
	})

	claimed := make(map[nodeKey]struct{})
	keep := make([]bool, len(t.Profiles))
	for _, i := range order {
		p := t.Profiles[i]
		shared := false
		for _, n := range p.Nodes {
			if _, ok := claimed[keyOf(n, t.Columns.Node)]; ok {
				shared = true
				break
			}
		}
		if shared {
			continue
		}
		keep[i] = true
		for _, n := range p.Nodes {
			claimed[keyOf(n, t.Columns.Node)] = struct{}{}
		}
	}

	out := &profile.Table{Columns: t.Columns}
	var removed []int64
	for i, p := range t.Profiles {
		if keep[i] {
			out.Profiles = append(out.Profiles, p.Clone())
		} else {
			removed = append(removed, p.SourceID)
		}
	}
	return out, removed
}

// SelectByStreamOrder keeps the nodes of the requested stream order.
//
// For order 1, or a table without a stream_order column at order 1, every
// node is kept. Above order 1 the kept nodes of each profile are rebased so
// distance from source starts at 0 at the first node of that order. Profiles
// left without nodes are removed and their ids returned.
func SelectByStreamOrder(t *profile.Table, order int) (*profile.Table, []int64, error) {
	if order < 1 {
		return nil, nil, fmt.Errorf("stream order must be at least 1, got %d", order)
	}
	if !t.Columns.StreamOrder {
		if order > 1 {
			return nil, nil, fmt.Errorf("select stream order %d: %w", order, ErrNoStreamOrder)
		}
		return t.Clone(), nil, nil
	}

	out := &profile.Table{Columns: t.Columns}
	var removed []int64
	for _, p := range t.Profiles {
		sel := profile.Profile{SourceID: p.SourceID}
		for _, n := range p.Nodes {
			if n.StreamOrder == order {
				sel.Nodes = append(sel.Nodes, n)
			}
		}
		if len(sel.Nodes) == 0 {
			removed = append(removed, p.SourceID)
			continue
		}
		if order > 1 {
			base := sel.Nodes[0].DistanceFromSource
			for i := range sel.Nodes {
				sel.Nodes[i].DistanceFromSource -= base
			}
		}
		out.Profiles = append(out.Profiles, sel)
	}
	return out, removed, nil
}

// RemoveShortProfiles drops profiles whose length is below minLength.
// A minLength of 0 or less keeps everything.
func RemoveShortProfiles(t *profile.Table, minLength float64) (*profile.Table, []int64) {
	if minLength <= 0 {
		return t.Clone(), nil
	}
	var removed []int64
	out := t.Filter(func(p profile.Profile) bool {
		if p.Length() < minLength {
			removed = append(removed, p.SourceID)
			return false
		}
		return true
	})
	return out, removed
}
