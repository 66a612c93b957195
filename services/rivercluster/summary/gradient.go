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
	"github.com/AleutianAI/RiverCluster/services/rivercluster/assign"
)

// GradientStats describes the node slopes of one cluster.
type GradientStats struct {
	ClusterID int     `json:"cluster_id"`
	Colour    string  `json:"colour"`
	Profiles  int     `json:"profiles"`
	Nodes     int     `json:"nodes"`
	Slope     *Spread `json:"slope,omitempty"`
}

// Gradients returns per-cluster slope statistics over every labelled node
// with a defined slope, ordered by cluster id. Slope is nil for a cluster
// without defined slopes.
func Gradients(ct *assign.ClusteredTable) []GradientStats {
	var out []GradientStats
	for _, cl := range ct.ClusterIDs() {
		members := ct.Cluster(cl)
		var slopes []float64
		for _, p := range members.Profiles {
			for _, n := range p.Nodes {
				if n.HasSlope() {
					slopes = append(slopes, n.Slope)
				}
			}
		}
		gs := GradientStats{
			ClusterID: cl,
			Colour:    assign.Colour(cl),
			Profiles:  members.Len(),
			Nodes:     len(slopes),
		}
		if len(slopes) > 0 {
			s := spreadOf(slopes)
			gs.Slope = &s
		}
		out = append(out, gs)
	}
	return out
}
