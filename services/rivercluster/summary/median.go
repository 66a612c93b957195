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
	"sort"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/resample"
)

// MedianProfile is the pointwise slope spread of one cluster on the
// regular grid.
type MedianProfile struct {
	ClusterID int       `json:"cluster_id"`
	Members   int       `json:"members"`
	Distance  []float64 `json:"distance"`
	Slope     []Spread  `json:"slope"`
}

// MedianProfiles returns one MedianProfile per cluster, ordered by cluster
// id. Resampled profiles without a label are ignored.
func MedianProfiles(res *resample.Result, labels map[int64]int) []MedianProfile {
	members := make(map[int][]resample.Resampled)
	for _, p := range res.Profiles {
		if cl, ok := labels[p.SourceID]; ok {
			members[cl] = append(members[cl], p)
		}
	}

	clusters := make([]int, 0, len(members))
	for cl := range members {
		clusters = append(clusters, cl)
	}
	sort.Ints(clusters)

	out := make([]MedianProfile, 0, len(clusters))
	column := make([]float64, 0)
	for _, cl := range clusters {
		group := members[cl]
		mp := MedianProfile{
			ClusterID: cl,
			Members:   len(group),
			Distance:  append([]float64(nil), res.Grid...),
			Slope:     make([]Spread, len(res.Grid)),
		}
		for k := range res.Grid {
			column = column[:0]
			for _, p := range group {
				column = append(column, p.Slopes[k])
			}
			mp.Slope[k] = spreadOf(column)
		}
		out = append(out, mp)
	}
	return out
}
