// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

// Exclusion reasons, used as map keys and metric labels.
const (
	ReasonTooShortForWindow = "too_short_for_window"
	ReasonStreamOrder       = "stream_order"
	ReasonNonUnique         = "non_unique"
	ReasonBelowMinLength    = "below_min_length"
	ReasonUnqualified       = "unqualified"
	ReasonDegenerate        = "degenerate"
)

// Exclusions records which sources were left out of clustering and why.
// Each source appears under at most one reason, the first stage that
// removed it.
type Exclusions struct {
	// TooShortForWindow holds profiles with fewer nodes than the slope
	// window. They carry no slopes and so never qualify for resampling.
	TooShortForWindow []int64 `json:"too_short_for_window,omitempty"`

	// StreamOrder holds profiles with no node of the requested order.
	StreamOrder []int64 `json:"stream_order,omitempty"`

	// NonUnique holds profiles whose nodes were all shared with longer ones.
	NonUnique []int64 `json:"non_unique,omitempty"`

	// BelowMinLength holds profiles shorter than the minimum length.
	BelowMinLength []int64 `json:"below_min_length,omitempty"`

	// Unqualified holds profiles with too few valid slopes to resample.
	Unqualified []int64 `json:"unqualified,omitempty"`

	// Degenerate holds profiles dropped for a constant resampled vector.
	Degenerate []int64 `json:"degenerate,omitempty"`
}

// Counts returns the number of sources per reason.
func (e Exclusions) Counts() map[string]int {
	return map[string]int{
		ReasonTooShortForWindow: len(e.TooShortForWindow),
		ReasonStreamOrder:       len(e.StreamOrder),
		ReasonNonUnique:         len(e.NonUnique),
		ReasonBelowMinLength:    len(e.BelowMinLength),
		ReasonUnqualified:       len(e.Unqualified),
		ReasonDegenerate:        len(e.Degenerate),
	}
}

// Total returns the number of excluded sources.
func (e Exclusions) Total() int {
	total := 0
	for _, n := range e.Counts() {
		total += n
	}
	return total
}

// without returns ids minus every id in skip, keeping order.
func without(ids []int64, skip ...[]int64) []int64 {
	drop := make(map[int64]bool)
	for _, s := range skip {
		for _, id := range s {
			drop[id] = true
		}
	}
	var out []int64
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
