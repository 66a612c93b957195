// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile holds the typed channel-profile table shared by every
// stage of the clustering pipeline.
//
// A Table is a list of Profiles, one per channel head (source id), each an
// ordered run of channel Nodes from the source downstream. Tables are
// treated as immutable snapshots: every stage returns a new Table and never
// edits the one it was given.
package profile

import (
	"math"
)

// Column names of the delimited profile tables.
const (
	ColID                 = "id"
	ColNode               = "node"
	ColDistanceFromSource = "distance_from_source"
	ColDistanceFromOutlet = "distance_from_outlet"
	ColElevation          = "elevation"
	ColDrainageArea       = "drainage_area"
	ColStreamOrder        = "stream_order"
	ColSlope              = "slope"
	ColLatitude           = "latitude"
	ColLongitude          = "longitude"
)

// RequiredColumns must be present in every input table.
var RequiredColumns = []string{
	ColID,
	ColDistanceFromSource,
	ColDistanceFromOutlet,
	ColElevation,
	ColDrainageArea,
}

// Node is one channel pixel on a profile.
type Node struct {
	// SourceID identifies the channel head the node was traced from.
	SourceID int64 `json:"id"`

	// NodeID is the raster node index. Only meaningful when the table
	// carries a node column (Columns.Node).
	NodeID int64 `json:"node,omitempty"`

	DistanceFromSource float64 `json:"distance_from_source"`
	DistanceFromOutlet float64 `json:"distance_from_outlet"`
	Elevation          float64 `json:"elevation"`
	DrainageArea       float64 `json:"drainage_area"`

	// StreamOrder is the Strahler order of the channel at this node, 0 when unknown.
	StreamOrder int `json:"stream_order,omitempty"`

	// Slope is the windowed regression gradient magnitude, NaN when missing.
	Slope float64 `json:"slope"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// HasSlope reports whether the node carries a defined slope.
func (n Node) HasSlope() bool {
	return !math.IsNaN(n.Slope)
}

// Profile is the ordered node sequence for one source id.
//
// Invariant: Nodes are sorted by non-decreasing DistanceFromSource.
type Profile struct {
	SourceID int64  `json:"id"`
	Nodes    []Node `json:"nodes"`
}

// Len returns the number of nodes.
func (p Profile) Len() int {
	return len(p.Nodes)
}

// Length returns the distance from source of the terminal node, or 0 for an
// empty profile.
func (p Profile) Length() float64 {
	if len(p.Nodes) == 0 {
		return 0
	}
	return p.Nodes[len(p.Nodes)-1].DistanceFromSource
}

// Distances returns a fresh slice of distance_from_source values.
func (p Profile) Distances() []float64 {
	out := make([]float64, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.DistanceFromSource
	}
	return out
}

// Elevations returns a fresh slice of elevation values.
func (p Profile) Elevations() []float64 {
	out := make([]float64, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.Elevation
	}
	return out
}

// Slopes returns a fresh slice of slope values (NaN where missing).
func (p Profile) Slopes() []float64 {
	out := make([]float64, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.Slope
	}
	return out
}

// ValidSlopeCount returns the number of nodes with a defined slope.
func (p Profile) ValidSlopeCount() int {
	count := 0
	for _, n := range p.Nodes {
		if n.HasSlope() {
			count++
		}
	}
	return count
}

// WithValidSlopes returns a copy holding only nodes with a defined slope.
func (p Profile) WithValidSlopes() Profile {
	nodes := make([]Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.HasSlope() {
			nodes = append(nodes, n)
		}
	}
	return Profile{SourceID: p.SourceID, Nodes: nodes}
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	nodes := make([]Node, len(p.Nodes))
	copy(nodes, p.Nodes)
	return Profile{SourceID: p.SourceID, Nodes: nodes}
}

// Columns records which optional columns a table carries.
type Columns struct {
	Node        bool `json:"node"`
	StreamOrder bool `json:"stream_order"`
	Slope       bool `json:"slope"`
	LatLon      bool `json:"lat_lon"`
}
