// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assign

// Palette is the qualitative colour cycle used for clusters.
var Palette = []string{
	"#2ca02c", // green
	"#d62728", // red
	"#e377c2", // magenta
	"#bcbd22", // olive
	"#7f7f7f", // grey
	"#17becf", // cyan
	"#1f77b4", // blue
	"#ff7f0e", // orange
	"#9467bd", // purple
	"#8c564b", // brown
}

// Colour returns the display colour for a cluster id. Ids beyond the palette
// wrap around; ids below 1 get the first colour.
func Colour(cluster int) string {
	if cluster < 1 {
		return Palette[0]
	}
	return Palette[(cluster-1)%len(Palette)]
}
